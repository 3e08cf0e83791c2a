package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Bot wraps the telego client and handles the chat-side of the game:
// /start (user creation + referral link-up), /ref and /stats. It also
// implements Notifier for the referral reward message.
type Bot struct {
	api      *telego.Bot
	app      *App
	username string
}

func NewBot(token string, app *App, debug bool) (*Bot, error) {
	var api *telego.Bot
	var err error
	if debug {
		api, err = telego.NewBot(token, telego.WithDefaultDebugLogger())
	} else {
		api, err = telego.NewBot(token, telego.WithDefaultLogger(false, false))
	}
	if err != nil {
		return nil, fmt.Errorf("create telego bot: %w", err)
	}
	return &Bot{api: api, app: app}, nil
}

// Start runs the long-polling loop until ctx is cancelled. Handler panics or
// errors are contained per update; the loop keeps running.
func (b *Bot) Start(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("bot getMe: %w", err)
	}
	b.username = me.Username
	log.Printf("Bot @%s started", me.Username)

	updates, err := b.api.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("bot long polling: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}

	fields := strings.Fields(msg.Text)
	command := strings.TrimSuffix(fields[0], "@"+b.username)
	payload := ""
	if len(fields) > 1 {
		payload = strings.Join(fields[1:], " ")
	}

	var err error
	switch command {
	case "/start":
		err = b.handleStart(ctx, msg, payload)
	case "/ref":
		err = b.handleRef(ctx, msg)
	case "/stats":
		err = b.handleStats(ctx, msg)
	default:
		return
	}
	if err != nil {
		log.Printf("bot command %s failed: %v", command, err)
		sentry.CaptureException(err)
		_, _ = b.api.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), "Sorry, something went wrong."))
	}
}

func tgUserFromMessage(msg *telego.Message) TelegramUser {
	tg := TelegramUser{ID: msg.From.ID, FirstName: msg.From.FirstName}
	if msg.From.LastName != "" {
		lastName := msg.From.LastName
		tg.LastName = &lastName
	}
	if msg.From.Username != "" {
		username := msg.From.Username
		tg.Username = &username
	}
	return tg
}

func (b *Bot) handleStart(ctx context.Context, msg *telego.Message, payload string) error {
	user, _, err := b.app.getOrCreateUser(tgUserFromMessage(msg), payload)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Welcome, %s!", user.FirstName)
	if _, ok := parseReferralPayload(payload); ok {
		text += "\n\nYou were invited by a friend - enjoy the game!"
	}
	_, err = b.api.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), text))
	return err
}

func (b *Bot) handleRef(ctx context.Context, msg *telego.Message) error {
	user, _, err := b.app.getOrCreateUser(tgUserFromMessage(msg), "")
	if err != nil {
		return err
	}

	link := fmt.Sprintf("https://t.me/%s?start=ref_%d", b.username, user.ID)
	text := fmt.Sprintf("Your referral link:\n\n%s\n\nShare it with friends and earn %d coins for each new player!",
		link, referralBonus)
	_, err = b.api.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), text))
	return err
}

func (b *Bot) handleStats(ctx context.Context, msg *telego.Message) error {
	user, _, err := b.app.getOrCreateUser(tgUserFromMessage(msg), "")
	if err != nil {
		return err
	}
	count, err := b.app.DB.CountReferrals(user.ID)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("You invited %d friends\nYour coins: %d", count, user.Coins)
	_, err = b.api.SendMessage(ctx, tu.Message(tu.ID(msg.Chat.ID), text))
	return err
}

// NotifyReferralReward implements Notifier.
func (b *Bot) NotifyReferralReward(chatID int64, bonus int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	text := fmt.Sprintf("You have a new referral! +%d coins", bonus)
	_, err := b.api.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}
