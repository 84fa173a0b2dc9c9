// File: internal/infra/adapters/telegram/real_bot_test.go
package telegram

import (
	"testing"

	"telegram-agent-runner/internal/config"
)

func TestIsOwner(t *testing.T) {
	// isOwner only reads the config, so the zero struct is enough here; the
	// full constructor would try to reach the Telegram API.
	r := &RealTelegramBotAdapter{
		cfg: &config.BotConfig{Token: "dummy", OwnerID: 1111, Workers: 2},
	}

	if !r.isOwner(1111) {
		t.Fatalf("expected 1111 to be the owner")
	}
	if r.isOwner(3333) {
		t.Fatalf("expected 3333 to NOT be the owner")
	}
}

func TestCommandRoutesCoverHelpText(t *testing.T) {
	r := &RealTelegramBotAdapter{
		cfg: &config.BotConfig{Token: "dummy", OwnerID: 1111, Workers: 2},
	}
	routes := r.commandRoutes()

	for _, cmd := range []string{
		"start", "help", "run", "jobs", "job", "cancel",
		"approve", "reject", "revise",
		"new", "resume", "fork", "sessions", "stop",
		"poll", "model", "permissions", "approvals", "search", "workdir", "status",
	} {
		if _, ok := routes[cmd]; !ok {
			t.Errorf("command %q is documented but not routed", cmd)
		}
	}
}

func TestCallbackPrefixRouting(t *testing.T) {
	r := &RealTelegramBotAdapter{
		cfg: &config.BotConfig{Token: "dummy", OwnerID: 1111, Workers: 2},
	}

	routes := r.cbPrefixRoutes()
	if len(routes) == 0 || routes[0].Prefix != "apr:" {
		t.Fatalf("expected the approval prefix route, got %+v", routes)
	}
}
