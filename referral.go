package main

import (
	"log"
	"strconv"
	"strings"

	"github.com/getsentry/sentry-go"
)

// referralBonus is the one-time coin credit to an inviter when their
// referred user is first created.
const referralBonus = 100

// Notifier delivers the best-effort "you have a new referral" message.
// Failures are logged and swallowed; they never affect the reward.
type Notifier interface {
	NotifyReferralReward(chatID int64, bonus int64) error
}

type noopNotifier struct{}

func (noopNotifier) NotifyReferralReward(int64, int64) error { return nil }

// parseReferralPayload extracts the inviter's internal id from a join
// payload of the form "ref_<id>". Anything else is not a referral.
func parseReferralPayload(payload string) (int64, bool) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "ref_") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, "ref_"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// getOrCreateUser upserts a user by Telegram id. Existing users only get
// their display fields refreshed; the referral hook fires exclusively on
// first-time creation. A forged or unknown referral code is not an error
// for the invitee: the user is simply created without a link.
func (a *App) getOrCreateUser(tg TelegramUser, payload string) (*User, bool, error) {
	u, err := a.DB.GetUserByTelegramID(tg.ID)
	if err != nil {
		return nil, false, err
	}
	if u != nil {
		if err := a.DB.UpdateUserProfile(u.ID, tg.FirstName, tg.LastName, tg.Username); err != nil {
			return nil, false, err
		}
		u.FirstName = tg.FirstName
		u.LastName = tg.LastName
		u.Username = tg.Username
		return u, false, nil
	}

	var referredBy *int64
	var referrer *User
	if refID, ok := parseReferralPayload(payload); ok {
		referrer, err = a.DB.GetUserByID(refID)
		if err != nil {
			return nil, false, err
		}
		if referrer != nil {
			referredBy = &refID
		}
	}

	u, err = a.DB.CreateUser(tg, referredBy)
	if err != nil {
		return nil, false, err
	}

	if referrer != nil {
		if err := a.DB.CreditReferrer(referrer.ID, referralBonus); err != nil {
			return nil, false, err
		}
		// Notification runs strictly after the reward is committed and on
		// its own goroutine; its outcome is discarded.
		chatID := referrer.TelegramID
		go func() {
			if err := a.Notifier.NotifyReferralReward(chatID, referralBonus); err != nil {
				log.Printf("referral notification failed for chat %d: %v", chatID, err)
				sentry.CaptureException(err)
			}
		}()
	}

	return u, true, nil
}
