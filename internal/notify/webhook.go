package notify

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Notifier posts run summaries to a configured Discord webhook. A missing
// or malformed URL disables it; notification failures are logged and never
// affect the run outcome.
type Notifier struct {
	session *discordgo.Session
	logger  *zap.Logger
	id      string
	token   string
}

// Summary is what gets posted after a run finishes.
type Summary struct {
	GuildName string
	GuildID   string
	Creator   string
	Succeeded int
	Skipped   int
	Failed    bool
	Error     string
}

func New(session *discordgo.Session, webhookURL string, logger *zap.Logger) *Notifier {
	n := &Notifier{session: session, logger: logger}
	n.id, n.token = parseWebhookURL(webhookURL)
	return n
}

func (n *Notifier) Enabled() bool {
	return n.session != nil && n.id != "" && n.token != ""
}

func (n *Notifier) Send(summary Summary) {
	if !n.Enabled() {
		return
	}
	_, err := n.session.WebhookExecute(n.id, n.token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{BuildSummaryEmbed(summary)},
	})
	if err != nil {
		n.logger.Warn("webhook notification failed", zap.Error(err))
	}
}

// BuildSummaryEmbed renders the run outcome as a webhook embed.
func BuildSummaryEmbed(summary Summary) *discordgo.MessageEmbed {
	title := "Server backup complete"
	color := 0x57F287
	description := fmt.Sprintf("%s (%s)\n%d sections backed up, %d skipped",
		summary.GuildName, summary.GuildID, summary.Succeeded, summary.Skipped)
	if summary.Failed {
		title = "Server backup failed"
		color = 0xED4245
		description = fmt.Sprintf("%s (%s)\n%s", summary.GuildName, summary.GuildID, summary.Error)
	}
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
	}
	if summary.Creator != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: "requested by " + summary.Creator}
	}
	return embed
}

// parseWebhookURL splits a discord.com/api/webhooks/<id>/<token> URL into
// its id and token parts. Anything else yields empty strings.
func parseWebhookURL(url string) (id, token string) {
	marker := "/webhooks/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return "", ""
	}
	rest := url[idx+len(marker):]
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", ""
	}
	token = parts[1]
	if q := strings.IndexByte(token, '?'); q >= 0 {
		token = token[:q]
	}
	return parts[0], token
}
