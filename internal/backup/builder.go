package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultDownloadConcurrency = 4

// SectionStatus records how one stage of a run went. It is observability
// output for the end-of-run summary, never part of the snapshot itself.
type SectionStatus struct {
	Name    string
	Items   int
	Skipped bool
	Err     error
}

// Tally aggregates per-section outcomes across a run.
type Tally struct {
	Sections []SectionStatus
}

func (t *Tally) add(name string, items int, err error) {
	t.Sections = append(t.Sections, SectionStatus{
		Name:    name,
		Items:   items,
		Skipped: err != nil || items == 0,
		Err:     err,
	})
}

// Succeeded counts sections that contributed at least one item.
func (t *Tally) Succeeded() int {
	n := 0
	for _, s := range t.Sections {
		if !s.Skipped {
			n++
		}
	}
	return n
}

// Skipped counts sections that contributed nothing, whether because they
// failed or because there was nothing to back up.
func (t *Tally) Skipped() int {
	return len(t.Sections) - t.Succeeded()
}

// Builder walks a live guild section by section and assembles the snapshot.
// Every section is independently fault-isolated: a failing stage contributes
// nothing and the run carries on, so a best-effort partial snapshot always
// comes out the other end.
type Builder struct {
	downloader  *Downloader
	logger      *zap.Logger
	concurrency int
}

type BuilderOption func(*Builder)

// WithDownloadConcurrency bounds how many per-item asset downloads run at
// once inside the emoji and sticker stages.
func WithDownloadConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

func NewBuilder(downloader *Downloader, logger *zap.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{
		downloader:  downloader,
		logger:      logger,
		concurrency: defaultDownloadConcurrency,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces the snapshot for src under outputDir. It only returns an
// error when no guild state is available at all; any single failing section
// is converted into an empty contribution and recorded in the tally.
func (b *Builder) Build(ctx context.Context, src Source, outputDir, creator string) (*Snapshot, *Tally, error) {
	if src == nil {
		return nil, nil, errors.New("no guild source")
	}
	guild := src.Guild()
	if guild.ID == "" {
		return nil, nil, errors.New("guild state is empty")
	}

	snapshot := NewSnapshot(time.Now().UTC().Format(time.RFC3339), creator)
	snapshot.ServerInfo.Name = guild.Name
	snapshot.ServerInfo.ID = guild.ID
	snapshot.ServerInfo.IsCommunity = hasFeature(guild.Features, "COMMUNITY")

	tally := &Tally{}

	if err := b.prepareDirs(outputDir); err != nil {
		b.logger.Warn("output directory setup failed", zap.String("dir", outputDir), zap.Error(err))
	}

	items, err := b.stageAssets(ctx, src, outputDir)
	b.finishStage(tally, "assets", items, err)

	items, err = b.stageSystemChannels(src, guild, snapshot)
	b.finishStage(tally, "system_channels", items, err)

	items, err = b.stageRoles(ctx, src, guild, snapshot)
	b.finishStage(tally, "roles", items, err)

	items, err = b.stageBans(ctx, src, snapshot)
	b.finishStage(tally, "bans", items, err)

	items, err = b.stageEmojis(ctx, src, outputDir, snapshot)
	b.finishStage(tally, "emojis", items, err)

	items, err = b.stageStickers(ctx, src, outputDir, snapshot)
	b.finishStage(tally, "stickers", items, err)

	items, err = b.stageChannels(src, guild, snapshot)
	b.finishStage(tally, "channels", items, err)

	Sort(snapshot)

	b.logger.Info("backup assembled",
		zap.String("guild_id", guild.ID),
		zap.Int("succeeded", tally.Succeeded()),
		zap.Int("skipped", tally.Skipped()))
	return snapshot, tally, nil
}

func (b *Builder) finishStage(tally *Tally, name string, items int, err error) {
	tally.add(name, items, err)
	if err != nil {
		b.logger.Warn("backup section skipped", zap.String("section", name), zap.Error(err))
		return
	}
	b.logger.Info("backup section done", zap.String("section", name), zap.Int("items", items))
}

func (b *Builder) prepareDirs(outputDir string) error {
	for _, dir := range []string{outputDir, filepath.Join(outputDir, "emojis"), filepath.Join(outputDir, "stickers")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) stageAssets(ctx context.Context, src Source, outputDir string) (int, error) {
	saved := 0
	for _, asset := range []struct {
		url  string
		name string
	}{
		{src.IconURL(), "icon"},
		{src.BannerURL(), "banner"},
	} {
		if asset.url == "" {
			continue
		}
		dest := filepath.Join(outputDir, asset.name+"."+urlExtension(asset.url))
		if err := b.downloader.Download(ctx, asset.url, dest); err != nil {
			b.logger.Warn("guild asset download failed", zap.String("asset", asset.name), zap.Error(err))
			continue
		}
		saved++
	}
	return saved, nil
}

func (b *Builder) stageSystemChannels(src Source, guild GuildState, snapshot *Snapshot) (int, error) {
	parents := parentNames(guild.Channels)
	count := 0
	serialize := func(channelID string) *ChannelRecord {
		ch, ok := findChannel(guild.Channels, channelID)
		if !ok {
			return nil
		}
		rec := SerializeSystemChannel(ch, parents[ch.ParentID], SerializeOverwrites(src, ch.Overwrites))
		if rec != nil {
			count++
		}
		return rec
	}
	snapshot.ServerInfo.RulesChannel = serialize(guild.RulesChannelID)
	snapshot.ServerInfo.PublicUpdatesChannel = serialize(guild.PublicUpdatesChannelID)
	snapshot.ServerInfo.SystemChannel = serialize(guild.SystemChannelID)
	return count, nil
}

func (b *Builder) stageRoles(ctx context.Context, src Source, guild GuildState, snapshot *Snapshot) (int, error) {
	roles := guild.Roles
	if len(roles) == 0 {
		fetched, err := src.FetchRoles(ctx)
		if err != nil {
			return 0, err
		}
		roles = fetched
	}
	snapshot.Roles = SerializeRoles(guild.ID, roles)
	return len(snapshot.Roles), nil
}

func (b *Builder) stageBans(ctx context.Context, src Source, snapshot *Snapshot) (int, error) {
	bans, err := src.FetchBans(ctx)
	if err != nil {
		snapshot.BannedUsers = []BanRecord{}
		return 0, err
	}
	for _, ban := range bans {
		if rec := SerializeBan(ban); rec != nil {
			snapshot.BannedUsers = append(snapshot.BannedUsers, *rec)
		}
	}
	return len(snapshot.BannedUsers), nil
}

func (b *Builder) stageEmojis(ctx context.Context, src Source, outputDir string, snapshot *Snapshot) (int, error) {
	emojis, err := src.FetchEmojis(ctx)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(b.concurrency)
	for _, emoji := range emojis {
		emoji := emoji
		group.Go(func() error {
			dest := filepath.Join(outputDir, "emojis", emoji.ID+"."+EmojiExtension(emoji.Animated))
			if err := b.downloader.Download(groupCtx, emoji.URL, dest); err != nil {
				b.logger.Warn("emoji skipped", zap.String("emoji", emoji.Name), zap.Error(err))
				return nil
			}
			if rec := SerializeEmoji(emoji, dest); rec != nil {
				mu.Lock()
				snapshot.Emojis = append(snapshot.Emojis, *rec)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	sortEmojis(snapshot.Emojis)
	return len(snapshot.Emojis), nil
}

func (b *Builder) stageStickers(ctx context.Context, src Source, outputDir string, snapshot *Snapshot) (int, error) {
	stickers, err := src.FetchStickers(ctx)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(b.concurrency)
	for _, sticker := range stickers {
		sticker := sticker
		group.Go(func() error {
			dest := filepath.Join(outputDir, "stickers", sticker.ID+"."+StickerExtension(sticker.FormatType))
			if err := b.downloader.Download(groupCtx, sticker.URL, dest); err != nil {
				b.logger.Warn("sticker skipped", zap.String("sticker", sticker.Name), zap.Error(err))
				return nil
			}
			if rec := SerializeSticker(sticker, dest); rec != nil {
				mu.Lock()
				snapshot.Stickers = append(snapshot.Stickers, *rec)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	sortStickers(snapshot.Stickers)
	return len(snapshot.Stickers), nil
}

func (b *Builder) stageChannels(src Source, guild GuildState, snapshot *Snapshot) (int, error) {
	systemIDs := map[string]bool{}
	for _, id := range []string{guild.RulesChannelID, guild.PublicUpdatesChannelID, guild.SystemChannelID} {
		if id != "" {
			systemIDs[id] = true
		}
	}

	children := map[string][]string{}
	for _, ch := range guild.Channels {
		if ch.ParentID != "" {
			children[ch.ParentID] = append(children[ch.ParentID], ch.ID)
		}
	}
	parents := parentNames(guild.Channels)

	count := 0
	for _, ch := range guild.Channels {
		if systemIDs[ch.ID] || KindOf(ch.Type) != KindCategory {
			continue
		}
		rec := SerializeCategory(ch, children[ch.ID], SerializeOverwrites(src, ch.Overwrites))
		if rec == nil {
			continue
		}
		snapshot.Channels = append(snapshot.Channels, *rec)
		count++
	}
	for _, ch := range guild.Channels {
		if systemIDs[ch.ID] || KindOf(ch.Type) == KindCategory {
			continue
		}
		rec := SerializeChannel(ch, parents[ch.ParentID], SerializeOverwrites(src, ch.Overwrites))
		if rec == nil {
			continue
		}
		snapshot.Channels = append(snapshot.Channels, *rec)
		count++
	}
	return count, nil
}

func hasFeature(features []string, want string) bool {
	for _, f := range features {
		if f == want {
			return true
		}
	}
	return false
}

func findChannel(channels []ChannelState, id string) (ChannelState, bool) {
	if id == "" {
		return ChannelState{}, false
	}
	for _, ch := range channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChannelState{}, false
}

// parentNames maps category channel ids to their names, for the category
// annotation on child records.
func parentNames(channels []ChannelState) map[string]string {
	out := make(map[string]string)
	for _, ch := range channels {
		if KindOf(ch.Type) == KindCategory {
			out[ch.ID] = ch.Name
		}
	}
	return out
}

// urlExtension pulls the file extension out of a CDN URL, ignoring any
// query string.
func urlExtension(url string) string {
	path := url
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for i := len(path) - 1; i >= 0; i-- {
		switch path[i] {
		case '.':
			return path[i+1:]
		case '/':
			return "png"
		}
	}
	return "png"
}
