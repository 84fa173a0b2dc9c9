// File: internal/infra/adapters/telegram/command_route.go
package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"telegram-agent-runner/internal/usecase"
)

type commandHandler func(ctx context.Context, message *tgbotapi.Message) error

func (r *RealTelegramBotAdapter) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start": r.handleStartCommand,
		"help":  r.handleHelpCommand,

		"run":    r.handleRunCommand,
		"jobs":   r.handleJobsCommand,
		"job":    r.handleJobCommand,
		"cancel": r.handleCancelCommand,

		"approve": r.decisionCommand(usecase.DecisionApprove),
		"reject":  r.decisionCommand(usecase.DecisionReject),
		"revise":  r.decisionCommand(usecase.DecisionRevise),

		"new":      r.handleNewCommand,
		"resume":   r.handleResumeCommand,
		"fork":     r.handleForkCommand,
		"sessions": r.handleSessionsCommand,
		"stop":     r.handleStopCommand,

		"poll": r.handlePollCommand,

		"model":       r.handleModelCommand,
		"permissions": r.handlePermissionsCommand,
		"approvals":   r.handleApprovalsCommand,
		"search":      r.handleSearchCommand,
		"workdir":     r.handleWorkdirCommand,
		"status":      r.handleStatusCommand,
	}
}

const helpText = `Job commands:
/run <prompt> - queue a job (uses the active session when one is set)
/jobs - recent jobs
/job <id> - job details and history
/cancel <id> - cancel a queued or running job
/approve <id>, /reject <id> [note], /revise <id> <note> - approval decisions

Session commands:
/new [name] - create and activate a session (name generated when omitted)
/resume <name or id> - switch the active session
/fork [source] <name> - branch a session
/sessions - list sessions
/stop [name or id] - stop a session

Settings:
/model <name> [effort] - pick the model (reset clears)
/permissions <mode>, /approvals <mode>, /search <mode>
/workdir <path> - set the working directory
/status - queue and profile overview

/poll question | option | option - ask yourself a structured question`

func (r *RealTelegramBotAdapter) handleStartCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.SendMessage(ctx, message.Chat.ID, "Ready. Queue a job with /run <prompt>, or see /help.")
}

func (r *RealTelegramBotAdapter) handleHelpCommand(ctx context.Context, message *tgbotapi.Message) error {
	return r.SendMessage(ctx, message.Chat.ID, helpText)
}

func (r *RealTelegramBotAdapter) handleRunCommand(ctx context.Context, message *tgbotapi.Message) error {
	prompt := strings.TrimSpace(message.CommandArguments())
	if prompt == "" {
		return r.SendMessage(ctx, message.Chat.ID, "Usage: /run <prompt>")
	}
	text, err := r.facade.HandleRun(ctx, message.Chat.ID, prompt)
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handleJobsCommand(ctx context.Context, message *tgbotapi.Message) error {
	text, err := r.facade.HandleJobs(ctx, message.Chat.ID, 10)
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handleJobCommand(ctx context.Context, message *tgbotapi.Message) error {
	jobID := strings.TrimSpace(message.CommandArguments())
	if jobID == "" {
		return r.SendMessage(ctx, message.Chat.ID, "Usage: /job <id>")
	}
	text, err := r.facade.HandleJob(ctx, jobID)
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handleCancelCommand(ctx context.Context, message *tgbotapi.Message) error {
	jobID := strings.TrimSpace(message.CommandArguments())
	if jobID == "" {
		return r.SendMessage(ctx, message.Chat.ID, "Usage: /cancel <id>")
	}
	text, err := r.facade.HandleCancel(ctx, jobID)
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) decisionCommand(decision usecase.ApprovalDecision) commandHandler {
	return func(ctx context.Context, message *tgbotapi.Message) error {
		args := strings.Fields(message.CommandArguments())
		if len(args) == 0 {
			return r.SendMessage(ctx, message.Chat.ID, "Usage: /"+message.Command()+" <job id> [note]")
		}
		jobID := args[0]
		note := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(message.CommandArguments()), jobID))
		if decision == usecase.DecisionRevise && note == "" {
			return r.SendMessage(ctx, message.Chat.ID, "Usage: /revise <job id> <what to change>")
		}
		text, err := r.facade.HandleDecision(ctx, jobID, decision, note)
		return r.reply(ctx, message.Chat.ID, text, err)
	}
}

func (r *RealTelegramBotAdapter) handleNewCommand(ctx context.Context, message *tgbotapi.Message) error {
	name := strings.TrimSpace(message.CommandArguments())
	text, err := r.facade.HandleNewSession(ctx, message.Chat.ID, name)
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handleResumeCommand(ctx context.Context, message *tgbotapi.Message) error {
	ref := strings.TrimSpace(message.CommandArguments())
	if ref == "" {
		return r.SendMessage(ctx, message.Chat.ID, "Usage: /resume <name or id>")
	}
	text, err := r.facade.HandleResume(ctx, message.Chat.ID, ref)
	return r.reply(ctx, message.Chat.ID, text, err)
}

// /fork <name> forks the active session; /fork <source> <name> picks one.
func (r *RealTelegramBotAdapter) handleForkCommand(ctx context.Context, message *tgbotapi.Message) error {
	args := strings.Fields(message.CommandArguments())
	switch len(args) {
	case 1:
		text, err := r.facade.HandleFork(ctx, message.Chat.ID, "", args[0])
		return r.reply(ctx, message.Chat.ID, text, err)
	case 2:
		text, err := r.facade.HandleFork(ctx, message.Chat.ID, args[0], args[1])
		return r.reply(ctx, message.Chat.ID, text, err)
	default:
		return r.SendMessage(ctx, message.Chat.ID, "Usage: /fork [source] <name>")
	}
}

func (r *RealTelegramBotAdapter) handleSessionsCommand(ctx context.Context, message *tgbotapi.Message) error {
	text, err := r.facade.HandleSessions(ctx, message.Chat.ID)
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handleStopCommand(ctx context.Context, message *tgbotapi.Message) error {
	ref := strings.TrimSpace(message.CommandArguments())
	text, err := r.facade.HandleStopSession(ctx, message.Chat.ID, ref)
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handlePollCommand(ctx context.Context, message *tgbotapi.Message) error {
	poll, text, err := r.facade.HandleCreatePoll(ctx, message.CommandArguments())
	if err != nil {
		return err
	}
	if poll == nil {
		return r.SendMessage(ctx, message.Chat.ID, text)
	}
	_, err = r.SendPoll(ctx, message.Chat.ID, poll)
	return err
}

func (r *RealTelegramBotAdapter) handleModelCommand(ctx context.Context, message *tgbotapi.Message) error {
	args := strings.Fields(message.CommandArguments())
	name, effort := "", ""
	if len(args) > 0 {
		name = args[0]
	}
	if len(args) > 1 {
		effort = args[1]
	}
	text, err := r.facade.HandleSetModel(ctx, message.Chat.ID, name, effort)
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handlePermissionsCommand(ctx context.Context, message *tgbotapi.Message) error {
	text, err := r.facade.HandleSetPermissions(ctx, message.Chat.ID, strings.TrimSpace(message.CommandArguments()))
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handleApprovalsCommand(ctx context.Context, message *tgbotapi.Message) error {
	text, err := r.facade.HandleSetApprovals(ctx, message.Chat.ID, strings.TrimSpace(message.CommandArguments()))
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handleSearchCommand(ctx context.Context, message *tgbotapi.Message) error {
	text, err := r.facade.HandleSetSearch(ctx, message.Chat.ID, strings.TrimSpace(message.CommandArguments()))
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handleWorkdirCommand(ctx context.Context, message *tgbotapi.Message) error {
	text, err := r.facade.HandleSetWorkdir(ctx, message.Chat.ID, strings.TrimSpace(message.CommandArguments()))
	return r.reply(ctx, message.Chat.ID, text, err)
}

func (r *RealTelegramBotAdapter) handleStatusCommand(ctx context.Context, message *tgbotapi.Message) error {
	text, err := r.facade.HandleStatus(ctx, message.Chat.ID)
	return r.reply(ctx, message.Chat.ID, text, err)
}

// reply forwards a facade result, turning handler errors into a generic
// message so the command loop stays quiet.
func (r *RealTelegramBotAdapter) reply(ctx context.Context, chatID int64, text string, err error) error {
	if err != nil {
		r.log.Error().Err(err).Msg("facade call failed")
		return r.SendMessage(ctx, chatID, "Something went wrong. Check the logs.")
	}
	if text == "" {
		return nil
	}
	return r.SendMessage(ctx, chatID, text)
}
