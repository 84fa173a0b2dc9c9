// File: internal/infra/adapters/telegram/callback_route.go
package telegram

import (
	"context"
	"strings"

	"telegram-agent-runner/internal/usecase"
)

type cbHandler func(ctx context.Context, chatID int64, data string) error

type prefixCB struct {
	Prefix string
	Fn     cbHandler
}

func (r *RealTelegramBotAdapter) cbPrefixRoutes() []prefixCB {
	return []prefixCB{
		{
			Prefix: "apr:",
			Fn:     r.approvalPrefixCBRoute,
		},
	}
}

// approvalPrefixCBRoute handles "apr:<job id>:<decision>" from the approval
// checklist buttons.
func (r *RealTelegramBotAdapter) approvalPrefixCBRoute(ctx context.Context, chatID int64, data string) error {
	payload := strings.TrimPrefix(data, "apr:")
	idx := strings.LastIndex(payload, ":")
	if idx <= 0 {
		r.log.Warn().Str("data", data).Msg("malformed approval callback")
		return nil
	}
	jobID, verb := payload[:idx], payload[idx+1:]

	var decision usecase.ApprovalDecision
	switch verb {
	case "approve":
		decision = usecase.DecisionApprove
	case "reject":
		decision = usecase.DecisionReject
	case "revise":
		decision = usecase.DecisionRevise
	default:
		r.log.Warn().Str("data", data).Msg("unknown approval verb")
		return nil
	}

	text, err := r.facade.HandleDecision(ctx, jobID, decision, "")
	if err != nil {
		return err
	}
	if decision == usecase.DecisionRevise {
		text += "\nSend the change with /revise " + jobID + " <what to change>."
	}
	return r.SendMessage(ctx, chatID, text)
}
