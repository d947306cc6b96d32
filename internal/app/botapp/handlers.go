package botapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BrunoS-V/telegram-vip-bot/internal/domain/enums"
	tginfra "github.com/BrunoS-V/telegram-vip-bot/internal/infra/telegram"
	redrepo "github.com/BrunoS-V/telegram-vip-bot/internal/repo/redis"
	paymentsvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/payments"
	"github.com/BrunoS-V/telegram-vip-bot/internal/services/providers"
	subsvc "github.com/BrunoS-V/telegram-vip-bot/internal/services/subscriptions"
)

const (
	welcomeInstruction = "Bem-vindo! Escolha um plano para entrar no canal VIP:"
	emailPrompt        = "Qual e-mail você vai usar no pagamento? Ele serve para localizar sua compra."
	emailInvalid       = "Esse e-mail não parece válido. Tente de novo."
	emailAccepted      = "E-mail registrado! Conclua o pagamento com esse mesmo e-mail e o acesso será liberado automaticamente."
	noSubscription     = "Você ainda não tem uma assinatura ativa. Use /start para assinar."
	somethingWentWrong = "Algo deu errado, tente novamente em instantes."
)

const (
	buyCallbackPrefix = "buy:"
	inviteCallback    = "invite:again"
)

func (a *App) handleCommand(ctx context.Context, update tginfra.CommandUpdate) error {
	if a.client == nil {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(update.Command)) {
	case "start":
		return a.sendPlanMenu(ctx, update.ChatID)
	case "status":
		return a.sendStatus(ctx, update.ChatID, update.UserID)
	case "get_channel_id":
		// Owner utility: echoes the id of whichever chat the command came
		// from, so CHANNEL_ID can be configured without guesswork.
		return a.client.SendText(ctx, update.ChatID, fmt.Sprintf("Chat ID: %d", update.ChatID))
	default:
		return nil
	}
}

func (a *App) handleCallback(ctx context.Context, update tginfra.CallbackUpdate) error {
	if a.client == nil {
		return nil
	}

	data := strings.TrimSpace(update.Data)
	switch {
	case strings.HasPrefix(data, buyCallbackPrefix):
		return a.startPurchase(ctx, update, strings.TrimPrefix(data, buyCallbackPrefix))
	case data == inviteCallback:
		return a.resendInvite(ctx, update)
	default:
		return a.client.AnswerCallback(ctx, update.CallbackID, "Ação desconhecida")
	}
}

// handleText only matters while a purchaser owes us an email; any other
// text is ignored.
func (a *App) handleText(ctx context.Context, update tginfra.TextUpdate) error {
	if a.client == nil {
		return nil
	}

	state, err := a.conversations.Get(ctx, update.UserID)
	if err != nil {
		if errors.Is(err, redrepo.ErrConversationNotFound) {
			return nil
		}
		a.logger.Warn("failed to load conversation state", zap.Int64("user_id", update.UserID), zap.Error(err))
		return nil
	}
	if state.State != redrepo.StateAwaitingEmail {
		return nil
	}

	email := strings.TrimSpace(update.Text)
	if err := a.payments.AttachContact(ctx, update.UserID, state.RecordID, email); err != nil {
		if errors.Is(err, paymentsvc.ErrValidation) {
			return a.client.SendText(ctx, update.ChatID, emailInvalid)
		}
		a.logger.Error("failed to attach contact", zap.Int64("user_id", update.UserID), zap.Error(err))
		return a.client.SendText(ctx, update.ChatID, somethingWentWrong)
	}

	if err := a.conversations.Clear(ctx, update.UserID); err != nil {
		a.logger.Warn("failed to clear conversation state", zap.Int64("user_id", update.UserID), zap.Error(err))
	}
	return a.client.SendText(ctx, update.ChatID, emailAccepted)
}

func (a *App) sendPlanMenu(ctx context.Context, chatID int64) error {
	monthLabel := fmt.Sprintf("VIP 30 dias — %s", formatPrice(a.cfg.Plans.Currency, a.cfg.Plans.Month.PriceCents))
	lifetimeLabel := fmt.Sprintf("VIP vitalício — %s", formatPrice(a.cfg.Plans.Currency, a.cfg.Plans.Lifetime.PriceCents))

	return a.client.SendKeyboard(ctx, chatID, welcomeInstruction, [][]tginfra.Button{
		{{Label: monthLabel, Data: buyCallbackPrefix + string(enums.PlanVIPMonth)}},
		{{Label: lifetimeLabel, Data: buyCallbackPrefix + string(enums.PlanVIPLifetime)}},
	})
}

func (a *App) startPurchase(ctx context.Context, update tginfra.CallbackUpdate, rawPlan string) error {
	plan, ok := enums.ParsePlan(rawPlan)
	if !ok {
		return a.client.AnswerCallback(ctx, update.CallbackID, "Plano desconhecido")
	}

	rec, err := a.payments.CreateIntent(ctx, update.UserID, providers.KindMercadoPago, plan)
	if err != nil {
		a.logger.Error("failed to create purchase intent", zap.Int64("user_id", update.UserID), zap.Error(err))
		return a.client.AnswerCallback(ctx, update.CallbackID, somethingWentWrong)
	}

	err = a.conversations.Set(ctx, update.UserID, redrepo.ConversationState{
		State:    redrepo.StateAwaitingEmail,
		RecordID: rec.ID,
	}, a.conversationTTL())
	if err != nil {
		a.logger.Error("failed to store conversation state", zap.Int64("user_id", update.UserID), zap.Error(err))
		return a.client.AnswerCallback(ctx, update.CallbackID, somethingWentWrong)
	}

	if err := a.client.AnswerCallback(ctx, update.CallbackID, ""); err != nil {
		return err
	}
	return a.client.SendText(ctx, update.ChatID, emailPrompt)
}

func (a *App) sendStatus(ctx context.Context, chatID, userID int64) error {
	snap, err := a.subscriptions.Status(ctx, userID)
	if err != nil {
		a.logger.Error("failed to load subscription status", zap.Int64("user_id", userID), zap.Error(err))
		return a.client.SendText(ctx, chatID, somethingWentWrong)
	}

	switch snap.Kind {
	case subsvc.KindActive:
		text := fmt.Sprintf("Assinatura ativa até %s.", snap.ExpiresAt.Format("02/01/2006 15:04 MST"))
		return a.client.SendKeyboard(ctx, chatID, text, [][]tginfra.Button{
			{{Label: "Receber link de convite", Data: inviteCallback}},
		})
	case subsvc.KindActivePerpetual:
		return a.client.SendKeyboard(ctx, chatID, "Assinatura vitalícia ativa.", [][]tginfra.Button{
			{{Label: "Receber link de convite", Data: inviteCallback}},
		})
	case subsvc.KindPendingApproval:
		return a.client.SendText(ctx, chatID, "Pagamento pendente. Assim que for aprovado o acesso é liberado automaticamente.")
	case subsvc.KindExpired:
		text := fmt.Sprintf("Sua assinatura expirou em %s. Use /start para renovar.", snap.ExpiresAt.Format("02/01/2006"))
		return a.client.SendText(ctx, chatID, text)
	default:
		return a.client.SendText(ctx, chatID, noSubscription)
	}
}

// resendInvite re-checks entitlement before minting another link; the
// callback may arrive long after the status message that offered it.
func (a *App) resendInvite(ctx context.Context, update tginfra.CallbackUpdate) error {
	snap, err := a.subscriptions.Status(ctx, update.UserID)
	if err != nil {
		a.logger.Error("failed to load subscription status", zap.Int64("user_id", update.UserID), zap.Error(err))
		return a.client.AnswerCallback(ctx, update.CallbackID, somethingWentWrong)
	}
	if snap.Kind != subsvc.KindActive && snap.Kind != subsvc.KindActivePerpetual {
		return a.client.AnswerCallback(ctx, update.CallbackID, noSubscription)
	}

	if err := a.access.Grant(ctx, update.UserID, snap.Plan); err != nil {
		a.logger.Error("failed to issue invite link", zap.Int64("user_id", update.UserID), zap.Error(err))
		return a.client.AnswerCallback(ctx, update.CallbackID, somethingWentWrong)
	}
	return a.client.AnswerCallback(ctx, update.CallbackID, "Link enviado!")
}

func (a *App) conversationTTL() time.Duration {
	if a.cfg.Bot.ConversationTTL > 0 {
		return a.cfg.Bot.ConversationTTL
	}
	return 30 * time.Minute
}

func formatPrice(currency string, cents int) string {
	return fmt.Sprintf("%s %d,%02d", currency, cents/100, cents%100)
}
