package simulator

import (
	"github.com/GriffinCanCode/chromelink/internal/domain/command"
	"github.com/GriffinCanCode/chromelink/internal/domain/injection"
	"github.com/GriffinCanCode/chromelink/internal/shared/types"
	"github.com/GriffinCanCode/chromelink/internal/simulator/sandbox"
)

// registerInjection stores or replaces an injection. It applies to future
// page loads only.
func (e *Extension) registerInjection(sessionID string, p *command.RegisterInjectionParams) (interface{}, error) {
	if p.ID == "" || p.Code == "" {
		return nil, types.NewCommandError(types.CodeMissingParams, "Missing required parameters for registerInjection: id, code")
	}
	if err := sandbox.Compile(p.Code); err != nil {
		return nil, types.NewCommandError(types.CodeInjectionError, "Invalid injection code: %v", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(sessionID, p.ID)
	e.injections = append(e.injections, &registration{
		ID:        p.ID,
		SessionID: sessionID,
		Code:      p.Code,
		Matches:   append([]string(nil), p.Matches...),
		RunAt:     injection.RunAt(p.RunAt),
	})
	return map[string]interface{}{"registered": true, "id": p.ID}, nil
}

func (e *Extension) unregisterInjection(sessionID string, p *command.UnregisterInjectionParams) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.removeLocked(sessionID, p.ID) {
		return nil, types.NewCommandError(types.CodeInjectionError, "Injection not found: %s", p.ID)
	}
	return map[string]interface{}{"unregistered": true, "id": p.ID}, nil
}

func (e *Extension) removeLocked(sessionID, id string) bool {
	for i, reg := range e.injections {
		if reg.SessionID == sessionID && reg.ID == id {
			e.injections = append(e.injections[:i], e.injections[i+1:]...)
			return true
		}
	}
	return false
}
