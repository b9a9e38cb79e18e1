package ingress

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/compozy/relay/engine/executor"
	"github.com/compozy/relay/engine/webhook"
	"github.com/compozy/relay/engine/workflow"
	"github.com/compozy/relay/pkg/logger"
)

// HeaderRunID carries the identifier of an accepted run.
const HeaderRunID = "X-Run-ID"

type triggerBody struct {
	Workflow  any               `json:"workflow"`
	Variables map[string]string `json:"variables"`
}

type admission struct {
	path string
	req  workflow.RunRequest
}

// trigger authenticates, validates, gates and starts one run. The response
// is written before the run begins; the run holds the slot until it ends.
func (s *Server) trigger(c *gin.Context) {
	adm, err := s.admit(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !s.slot.TryAcquire() {
		s.fail(c, reject(ErrBusy, msgBusy, nil))
		return
	}
	started := false
	defer func() {
		if !started {
			s.slot.Release()
		}
	}()

	logger.FromContext(c.Request.Context()).Info("Workflow run accepted",
		"workflow", adm.req.WorkflowRef(),
		"run_id", adm.req.RunID(),
		"delivery", c.GetHeader(webhook.HeaderGitHubDelivery),
	)
	c.Header(HeaderRunID, adm.req.RunID())
	c.JSON(http.StatusOK, gin.H{"status": "started", "workflow": adm.req.WorkflowRef()})

	s.wg.Add(1)
	started = true
	go s.execute(adm)
}

func (s *Server) admit(c *gin.Context) (*admission, error) {
	body, err := s.readBody(c)
	if err != nil {
		return nil, err
	}
	if !webhook.VerifySignature(body, c.GetHeader(webhook.HeaderGitHubSignature), s.cfg.Secret) {
		return nil, reject(ErrUnauthorized, msgInvalidSignature, nil)
	}
	var tb triggerBody
	if err := json.Unmarshal(body, &tb); err != nil {
		return nil, reject(ErrValidation, msgInvalidJSON, err)
	}
	name, ok := tb.Workflow.(string)
	if !ok {
		return nil, reject(ErrValidation, msgInvalidName, nil)
	}
	path, err := s.resolver.Resolve(name)
	switch {
	case errors.Is(err, workflow.ErrInvalidName):
		return nil, reject(ErrValidation, msgInvalidName, err)
	case errors.Is(err, workflow.ErrNotFound):
		return nil, reject(ErrNotFound, msgNotFoundPrefix+name, err)
	case err != nil:
		return nil, reject(ErrInternal, msgInternal, err)
	}

	vars := webhook.AdaptEvent(c.GetHeader(webhook.HeaderGitHubEvent), body)
	if vars == nil {
		vars = map[string]string{}
	}
	maps.Copy(vars, tb.Variables)
	req, err := workflow.NewRunRequest(name,
		workflow.WithVariables(vars),
		workflow.WithMock(s.cfg.Mock),
		workflow.WithGateMode(s.cfg.GateMode),
		workflow.WithRunID(uuid.NewString()),
	)
	if err != nil {
		return nil, reject(ErrInternal, msgInternal, err)
	}
	return &admission{path: path, req: req}, nil
}

func (s *Server) readBody(c *gin.Context) ([]byte, error) {
	if c.Request.ContentLength > s.cfg.MaxBody {
		return nil, reject(ErrPayloadTooLarge, msgTooLarge, webhook.ErrPayloadTooLarge)
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBody)
	body, err := webhook.ReadRawBody(c.Request.Body, s.cfg.MaxBody)
	switch {
	case errors.Is(err, webhook.ErrPayloadTooLarge):
		return nil, reject(ErrPayloadTooLarge, msgTooLarge, err)
	case err != nil:
		return nil, reject(ErrInternal, msgInternal, err)
	}
	return body, nil
}

func (s *Server) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("webhook processing failed", "error", err)
	}
	if status == http.StatusRequestEntityTooLarge {
		c.Header("Connection", "close")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": messageFor(err)})
}

func (s *Server) execute(adm *admission) {
	defer s.wg.Done()
	res := s.run(adm)
	if s.observe != nil {
		s.observe(res)
	}
}

// run releases the slot on every path out of the runner.
func (s *Server) run(adm *admission) (res executor.Result) {
	defer s.slot.Release()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("workflow runner panicked", "run_id", adm.req.RunID(), "panic", r)
			res = executor.Result{
				RunID:    adm.req.RunID(),
				Workflow: adm.req.WorkflowRef(),
				Status:   executor.StatusFailure,
				Err:      fmt.Errorf("runner panic: %v", r),
			}
		}
	}()
	ctx := logger.ContextWithLogger(s.runCtx, s.log)
	return s.runner.Execute(ctx, adm.path, adm.req)
}

var _ Runner = (*executor.Headless)(nil)
