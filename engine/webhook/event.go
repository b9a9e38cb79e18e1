package webhook

import (
	"github.com/tidwall/gjson"
)

// ProviderGitHub prefixes every variable produced from a GitHub event.
const ProviderGitHub = "github"

const (
	EventPush        = "push"
	EventPullRequest = "pull_request"
)

type fieldMapping struct {
	key  string
	path string
}

var eventFields = map[string][]fieldMapping{
	EventPush: {
		{key: "ref", path: "ref"},
		{key: "repository", path: "repository.full_name"},
		{key: "sha", path: "head_commit.id"},
	},
	EventPullRequest: {
		{key: "pr_number", path: "pull_request.number"},
		{key: "head_ref", path: "pull_request.head.ref"},
		{key: "head_sha", path: "pull_request.head.sha"},
		{key: "base_ref", path: "pull_request.base.ref"},
		{key: "action", path: "action"},
	},
}

// AdaptEvent converts a CI event payload into run variables. It returns nil
// when eventType is empty. Fields missing from the payload, or present with a
// non-scalar value, are left out; malformed payloads yield only the event key.
func AdaptEvent(eventType string, payload []byte) map[string]string {
	if eventType == "" {
		return nil
	}
	vars := map[string]string{
		ProviderGitHub + "_event": eventType,
	}
	if !gjson.ValidBytes(payload) {
		return vars
	}
	for _, f := range eventFields[eventType] {
		if v, ok := scalar(gjson.GetBytes(payload, f.path)); ok {
			vars[ProviderGitHub+"_"+f.key] = v
		}
	}
	return vars
}

func scalar(res gjson.Result) (string, bool) {
	switch res.Type {
	case gjson.String:
		return res.Str, true
	case gjson.Number:
		return res.Raw, true
	case gjson.True, gjson.False:
		return res.String(), true
	default:
		return "", false
	}
}
