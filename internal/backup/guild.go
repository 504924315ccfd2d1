package backup

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const cdnBase = "https://cdn.discordapp.com"

// Source supplies the live guild state one snapshot is built from. The
// builder only talks to this interface; the discordgo adapter below is the
// production implementation and tests substitute their own.
type Source interface {
	Guild() GuildState
	// FetchRoles re-reads the role list from the API, used when the cached
	// list is empty before concluding the guild genuinely has no roles.
	FetchRoles(ctx context.Context) ([]RoleState, error)
	FetchBans(ctx context.Context) ([]BanState, error)
	FetchEmojis(ctx context.Context) ([]EmojiState, error)
	FetchStickers(ctx context.Context) ([]StickerState, error)
	// ResolveTarget maps a permission-overwrite target id to its display
	// name, checking roles first, then members. ok is false when the target
	// no longer exists, in which case the overwrite is dropped.
	ResolveTarget(targetID string) (name string, kind string, ok bool)
	IconURL() string
	BannerURL() string
}

type GuildState struct {
	ID                     string
	Name                   string
	Features               []string
	RulesChannelID         string
	PublicUpdatesChannelID string
	SystemChannelID        string
	Roles                  []RoleState
	Channels               []ChannelState
}

type RoleState struct {
	ID          string
	Name        string
	Permissions int64
	Color       int
	Hoist       bool
	Mentionable bool
	Position    int
}

type ChannelState struct {
	ID               string
	Name             string
	Type             int
	Position         int
	NSFW             bool
	Topic            string
	Bitrate          int
	UserLimit        int
	RateLimitPerUser int
	ParentID         string
	Overwrites       []OverwriteState
}

type OverwriteState struct {
	ID    string
	Allow int64
	Deny  int64
}

type EmojiState struct {
	ID        string
	Name      string
	Animated  bool
	Managed   bool
	Available bool
	Roles     []string
	URL       string
}

type StickerState struct {
	ID          string
	Name        string
	Description string
	Tags        string
	FormatType  int
	Available   bool
	URL         string
}

type BanState struct {
	UserID string
	Reason string
}

// DiscordSource adapts a connected discordgo session to the Source
// interface. It is created once per run after the guild has been fetched.
type DiscordSource struct {
	session *discordgo.Session
	guild   *discordgo.Guild
	logger  *zap.Logger

	memberMu    sync.Mutex
	memberNames map[string]string
}

// NewDiscordSource fetches the guild and its channel list and wraps them.
// A guild that cannot be fetched is the one genuinely fatal condition of a
// run, so the error propagates.
func NewDiscordSource(session *discordgo.Session, guildID string, logger *zap.Logger) (*DiscordSource, error) {
	guild, err := session.State.Guild(guildID)
	if err != nil || guild == nil || guild.Name == "" {
		guild, err = session.Guild(guildID)
		if err != nil {
			return nil, fmt.Errorf("guild %s not accessible: %w", guildID, err)
		}
	}
	if len(guild.Channels) == 0 {
		channels, err := session.GuildChannels(guildID)
		if err != nil {
			logger.Warn("channel list fetch failed", zap.String("guild_id", guildID), zap.Error(err))
		} else {
			guild.Channels = channels
		}
	}
	return &DiscordSource{
		session:     session,
		guild:       guild,
		logger:      logger,
		memberNames: make(map[string]string),
	}, nil
}

func (d *DiscordSource) Guild() GuildState {
	state := GuildState{
		ID:                     d.guild.ID,
		Name:                   d.guild.Name,
		RulesChannelID:         d.guild.RulesChannelID,
		PublicUpdatesChannelID: d.guild.PublicUpdatesChannelID,
		SystemChannelID:        d.guild.SystemChannelID,
	}
	for _, f := range d.guild.Features {
		state.Features = append(state.Features, string(f))
	}
	for _, r := range d.guild.Roles {
		state.Roles = append(state.Roles, roleState(r))
	}
	for _, ch := range d.guild.Channels {
		if ch == nil || ch.ID == "" {
			continue
		}
		state.Channels = append(state.Channels, channelState(ch))
	}
	return state
}

func (d *DiscordSource) FetchRoles(ctx context.Context) ([]RoleState, error) {
	roles, err := d.session.GuildRoles(d.guild.ID)
	if err != nil {
		return nil, fmt.Errorf("role fetch: %w", err)
	}
	out := make([]RoleState, 0, len(roles))
	for _, r := range roles {
		if r == nil {
			continue
		}
		out = append(out, roleState(r))
	}
	d.guild.Roles = roles
	return out, nil
}

func (d *DiscordSource) FetchBans(ctx context.Context) ([]BanState, error) {
	bans, err := d.session.GuildBans(d.guild.ID, 0, "", "")
	if err != nil {
		return nil, fmt.Errorf("ban fetch: %w", err)
	}
	out := make([]BanState, 0, len(bans))
	for _, b := range bans {
		if b == nil || b.User == nil {
			continue
		}
		out = append(out, BanState{UserID: b.User.ID, Reason: b.Reason})
	}
	return out, nil
}

func (d *DiscordSource) FetchEmojis(ctx context.Context) ([]EmojiState, error) {
	emojis, err := d.session.GuildEmojis(d.guild.ID)
	if err != nil {
		if len(d.guild.Emojis) == 0 {
			return nil, fmt.Errorf("emoji fetch: %w", err)
		}
		emojis = d.guild.Emojis
	}
	out := make([]EmojiState, 0, len(emojis))
	for _, e := range emojis {
		if e == nil || e.ID == "" {
			continue
		}
		ext := "png"
		if e.Animated {
			ext = "gif"
		}
		roles := e.Roles
		if roles == nil {
			roles = []string{}
		}
		out = append(out, EmojiState{
			ID:        e.ID,
			Name:      e.Name,
			Animated:  e.Animated,
			Managed:   e.Managed,
			Available: e.Available,
			Roles:     roles,
			URL:       fmt.Sprintf("%s/emojis/%s.%s", cdnBase, e.ID, ext),
		})
	}
	return out, nil
}

func (d *DiscordSource) FetchStickers(ctx context.Context) ([]StickerState, error) {
	stickers := d.guild.Stickers
	if len(stickers) == 0 {
		guild, err := d.session.Guild(d.guild.ID)
		if err != nil {
			return nil, fmt.Errorf("sticker fetch: %w", err)
		}
		stickers = guild.Stickers
	}
	out := make([]StickerState, 0, len(stickers))
	for _, st := range stickers {
		if st == nil || st.ID == "" {
			continue
		}
		format := int(st.FormatType)
		out = append(out, StickerState{
			ID:          st.ID,
			Name:        st.Name,
			Description: st.Description,
			Tags:        st.Tags,
			FormatType:  format,
			Available:   st.Available,
			URL:         fmt.Sprintf("%s/stickers/%s.%s", cdnBase, st.ID, StickerExtension(format)),
		})
	}
	return out, nil
}

func (d *DiscordSource) ResolveTarget(targetID string) (string, string, bool) {
	for _, r := range d.guild.Roles {
		if r != nil && r.ID == targetID {
			return r.Name, "role", true
		}
	}
	d.memberMu.Lock()
	name, cached := d.memberNames[targetID]
	d.memberMu.Unlock()
	if cached {
		if name == "" {
			return "", "", false
		}
		return name, "member", true
	}

	name = ""
	if member, err := d.session.State.Member(d.guild.ID, targetID); err == nil && member != nil {
		name = memberName(member)
	} else if member, err := d.session.GuildMember(d.guild.ID, targetID); err == nil && member != nil {
		name = memberName(member)
	}
	d.memberMu.Lock()
	d.memberNames[targetID] = name
	d.memberMu.Unlock()
	if name == "" {
		return "", "", false
	}
	return name, "member", true
}

func (d *DiscordSource) IconURL() string {
	return assetURL("icons", d.guild.ID, d.guild.Icon)
}

func (d *DiscordSource) BannerURL() string {
	return assetURL("banners", d.guild.ID, d.guild.Banner)
}

// assetURL builds a CDN URL for a guild-level asset hash; animated hashes
// carry the a_ prefix and resolve to gif.
func assetURL(kind, guildID, hash string) string {
	if hash == "" {
		return ""
	}
	ext := "png"
	if strings.HasPrefix(hash, "a_") {
		ext = "gif"
	}
	return fmt.Sprintf("%s/%s/%s/%s.%s?size=1024", cdnBase, kind, guildID, hash, ext)
}

func memberName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User != nil {
		return m.User.Username
	}
	return ""
}

func roleState(r *discordgo.Role) RoleState {
	return RoleState{
		ID:          r.ID,
		Name:        r.Name,
		Permissions: r.Permissions,
		Color:       r.Color,
		Hoist:       r.Hoist,
		Mentionable: r.Mentionable,
		Position:    r.Position,
	}
}

func channelState(ch *discordgo.Channel) ChannelState {
	state := ChannelState{
		ID:               ch.ID,
		Name:             ch.Name,
		Type:             int(ch.Type),
		Position:         ch.Position,
		NSFW:             ch.NSFW,
		Topic:            ch.Topic,
		Bitrate:          ch.Bitrate,
		UserLimit:        ch.UserLimit,
		RateLimitPerUser: ch.RateLimitPerUser,
		ParentID:         ch.ParentID,
	}
	for _, ow := range ch.PermissionOverwrites {
		if ow == nil {
			continue
		}
		state.Overwrites = append(state.Overwrites, OverwriteState{
			ID:    ow.ID,
			Allow: ow.Allow,
			Deny:  ow.Deny,
		})
	}
	return state
}
