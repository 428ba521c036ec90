package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mzhadan/chatforge/internal/dialog"
	"github.com/mzhadan/chatforge/internal/gateway"
	"github.com/mzhadan/chatforge/internal/icons"
	"github.com/mzhadan/chatforge/internal/provision"
	"github.com/mzhadan/chatforge/modules/channel/telegram"
)

// dispatch runs a dialog command in the background. The reply for the
// triggering step has already been delivered.
func (a *Assistant) dispatch(userID, chatID int64, cmd *dialog.Command) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		switch {
		case cmd.Provision != nil:
			a.runProvision(userID, chatID, cmd.Provision)
		case cmd.GrantAdmin != nil:
			a.runGrant(userID, chatID, cmd.GrantAdmin)
		case cmd.RefreshIcons:
			a.runIconRefresh(chatID)
		case cmd.TestIcons:
			a.runIconTest(chatID)
		}
	}()
}

func (a *Assistant) runProvision(userID, chatID int64, cmd *dialog.ProvisionCommand) {
	ctx, cancel := context.WithTimeout(a.runCtx, a.config.RunTimeout)
	defer cancel()

	out := dialog.RunOutcome{TopicsWanted: len(cmd.Template.Topics)}

	orch, err := a.orchestrator()
	if err != nil {
		a.logger.Error("provisioning unavailable", "error", err)
		out.Failed = true
		out.ErrorText = err.Error()
		a.finishRun(userID, chatID, out)
		return
	}

	runID := fmt.Sprintf("%d-%d", userID, time.Now().Unix())
	notify := func(text string) {
		if a.hub != nil {
			a.hub.Publish(gateway.ProgressEvent{RunID: runID, Text: text})
		}
		if err := a.send(ctx, chatID, dialog.Reply{Text: text}); err != nil {
			a.logger.Warn("progress delivery failed", "error", err)
		}
	}

	res := orch.Provision(ctx, cmd.Template, userID, provision.Options{
		Persist:  cmd.Persist,
		PrevName: cmd.PrevName,
		Notify:   notify,
	})

	out.Failed = res.Failed()
	out.ChatID = res.ChatID
	out.ChatTitle = res.ChatTitle
	out.InviteLink = res.InviteLink
	out.RequesterAdded = res.RequesterAdded
	out.TopicsCreated = len(res.TopicsCreated)
	out.StepErrors = len(res.Errors)
	if err := res.FatalError(); err != nil {
		out.ErrorText = err.Error()
	}
	a.finishRun(userID, chatID, out)
}

func (a *Assistant) finishRun(userID, chatID int64, out dialog.RunOutcome) {
	reply := a.machine.FinishRun(userID, out)
	ctx, cancel := context.WithTimeout(context.Background(), grantTimeout)
	defer cancel()
	if err := a.send(ctx, chatID, reply); err != nil {
		a.logger.Error("run summary delivery failed", "error", err)
	}
}

func (a *Assistant) runGrant(userID, chatID int64, cmd *dialog.GrantCommand) {
	ctx, cancel := context.WithTimeout(a.runCtx, grantTimeout)
	defer cancel()

	var member bool
	var err error
	if a.granter == nil {
		err = errors.New("admin grants are not available")
	} else {
		member, err = a.granter.CheckMembership(ctx, cmd.ChatID, userID)
		if err == nil && member {
			err = a.granter.PromoteMember(ctx, cmd.ChatID, userID)
		}
	}

	reply := a.machine.GrantResult(userID, member, err)
	if err := a.send(ctx, chatID, reply); err != nil {
		a.logger.Error("grant result delivery failed", "error", err)
	}
}

// RefreshIcons re-probes the platform's topic icon candidates and
// persists the resulting set. It implements the scheduler's refresher
// contract and backs the /refresh_topic_icons command.
func (a *Assistant) RefreshIcons(ctx context.Context) error {
	if a.config.ProbeChatID == 0 {
		return errors.New("assistant: probe_chat_id is not configured")
	}

	stickers, err := a.botAPI.GetForumTopicIconStickers(ctx)
	if err != nil {
		return fmt.Errorf("assistant: list icon stickers: %w", err)
	}
	candidates := make([]icons.Candidate, 0, len(stickers))
	for _, s := range stickers {
		if s.Emoji == "" || s.CustomEmojiID == "" {
			continue
		}
		candidates = append(candidates, icons.Candidate{
			Glyph:         s.Emoji,
			CustomEmojiID: s.CustomEmojiID,
		})
	}

	_, err = a.icons.Refresh(ctx, candidates, a.probeIcon)
	return err
}

// probeIcon creates a throwaway topic with the candidate's icon in the
// probe chat and deletes it again. Creation succeeding is the only
// reliable signal that the icon is accepted.
func (a *Assistant) probeIcon(ctx context.Context, c icons.Candidate) error {
	topic, err := a.botAPI.CreateForumTopic(ctx, telegram.CreateForumTopicRequest{
		ChatID:            a.config.ProbeChatID,
		Name:              "probe " + c.Glyph,
		IconCustomEmojiID: c.CustomEmojiID,
	})
	if err != nil {
		return err
	}
	if err := a.botAPI.DeleteForumTopic(ctx, a.config.ProbeChatID, topic.MessageThreadID); err != nil {
		a.logger.Warn("probe topic cleanup failed",
			"thread_id", topic.MessageThreadID,
			"error", err,
		)
	}
	return nil
}

func (a *Assistant) runIconRefresh(chatID int64) {
	ctx, cancel := context.WithTimeout(a.runCtx, a.config.ProbeTimeout)
	defer cancel()

	err := a.RefreshIcons(ctx)
	var text string
	switch {
	case errors.Is(err, icons.ErrRefreshInFlight):
		text = "An icon refresh is already running."
	case err != nil:
		a.logger.Error("icon refresh failed", "error", err)
		text = "Icon probing failed: " + err.Error()
	default:
		text = fmt.Sprintf("Icon probing finished. %d icons are usable.", a.icons.Len())
	}
	if err := a.send(ctx, chatID, dialog.Reply{Text: text}); err != nil {
		a.logger.Error("refresh summary delivery failed", "error", err)
	}
}

// runIconTest compares the cached icon set against the platform's
// current sticker list without probing anything.
func (a *Assistant) runIconTest(chatID int64) {
	ctx, cancel := context.WithTimeout(a.runCtx, grantTimeout)
	defer cancel()

	stickers, err := a.botAPI.GetForumTopicIconStickers(ctx)
	if err != nil {
		if err := a.send(ctx, chatID, dialog.Reply{Text: "Could not fetch the sticker list: " + err.Error()}); err != nil {
			a.logger.Error("icon test delivery failed", "error", err)
		}
		return
	}

	listed := make(map[string]string, len(stickers))
	for _, s := range stickers {
		if s.Emoji != "" {
			listed[s.Emoji] = s.CustomEmojiID
		}
	}
	current := a.icons.Current()

	var gone, changed []string
	for glyph, id := range current {
		cur, ok := listed[glyph]
		switch {
		case !ok:
			gone = append(gone, glyph)
		case cur != id:
			changed = append(changed, glyph)
		}
	}
	var unprobed int
	for glyph := range listed {
		if _, ok := current[glyph]; !ok {
			unprobed++
		}
	}
	sort.Strings(gone)
	sort.Strings(changed)

	var b strings.Builder
	fmt.Fprintf(&b, "Cached icons: %d. Platform candidates: %d.\n", len(current), len(listed))
	if len(gone) > 0 {
		fmt.Fprintf(&b, "Gone from the platform: %s\n", strings.Join(gone, " "))
	}
	if len(changed) > 0 {
		fmt.Fprintf(&b, "ID changed, refresh needed: %s\n", strings.Join(changed, " "))
	}
	if unprobed > 0 {
		fmt.Fprintf(&b, "Not yet probed: %d candidates.\n", unprobed)
	}
	if len(gone) == 0 && len(changed) == 0 && unprobed == 0 {
		b.WriteString("The cached set matches the platform list.\n")
	}

	if err := a.send(ctx, chatID, dialog.Reply{Text: strings.TrimRight(b.String(), "\n")}); err != nil {
		a.logger.Error("icon test delivery failed", "error", err)
	}
}
