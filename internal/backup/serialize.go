package backup

// Entity serializers: pure conversions from live guild state into the plain
// records that end up in the snapshot. Nothing here touches the network or
// the filesystem.

// Sticker format codes as Discord reports them.
const (
	stickerFormatPNG    = 1
	stickerFormatAPNG   = 2
	stickerFormatLottie = 3
	stickerFormatGIF    = 4
)

// KindOf resolves the raw channel type code into the tagged kind used for
// record construction.
func KindOf(typeCode int) ChannelKind {
	switch typeCode {
	case typeCodeText:
		return KindText
	case typeCodeVoice:
		return KindVoice
	case typeCodeCategory:
		return KindCategory
	case typeCodeAnnouncement:
		return KindAnnouncement
	case typeCodeStage:
		return KindStage
	default:
		return KindOther
	}
}

// SerializeRoles converts the guild's role list, excluding the @everyone
// role (its id equals the guild id). A guild always has at least the default
// role, so an otherwise empty result gets a synthetic @everyone placeholder.
func SerializeRoles(guildID string, roles []RoleState) []RoleRecord {
	out := make([]RoleRecord, 0, len(roles))
	for _, role := range roles {
		if role.ID == "" || role.ID == guildID {
			continue
		}
		out = append(out, RoleRecord{
			ID:          role.ID,
			Name:        role.Name,
			Permissions: Permissions(role.Permissions),
			Colour:      role.Color,
			Hoist:       role.Hoist,
			Mentionable: role.Mentionable,
			Position:    role.Position,
		})
	}
	if len(out) == 0 {
		out = append(out, RoleRecord{ID: guildID, Name: "@everyone"})
	}
	return out
}

// SerializeOverwrites resolves each overwrite target against the guild's
// roles and members. Targets that no longer resolve are dropped without
// comment; a deleted role or departed member is expected state.
func SerializeOverwrites(src Source, overwrites []OverwriteState) []OverwriteRecord {
	out := make([]OverwriteRecord, 0, len(overwrites))
	for _, ow := range overwrites {
		name, kind, ok := src.ResolveTarget(ow.ID)
		if !ok {
			continue
		}
		out = append(out, OverwriteRecord{
			ID:    ow.ID,
			Type:  kind,
			Name:  name,
			Allow: Permissions(ow.Allow),
			Deny:  Permissions(ow.Deny),
		})
	}
	return out
}

// SerializeChannel builds the record for a non-category channel. parentName
// is the resolved name of the containing category, empty when top-level.
// Returns nil for structurally invalid input.
func SerializeChannel(ch ChannelState, parentName string, overwrites []OverwriteRecord) *ChannelRecord {
	if ch.ID == "" {
		return nil
	}
	kind := KindOf(ch.Type)
	if kind == KindCategory {
		return nil
	}

	rec := &ChannelRecord{
		ID:                   ch.ID,
		Name:                 ch.Name,
		Type:                 TypeCode(ch.Type),
		Position:             ch.Position,
		PermissionOverwrites: overwrites,
		Kind:                 kind,
	}
	if ch.ParentID != "" {
		rec.ParentID = strPtr(ch.ParentID)
	}
	if parentName != "" {
		rec.Category = strPtr(parentName)
	}

	switch kind {
	case KindText, KindAnnouncement:
		rec.NSFW = boolPtr(ch.NSFW)
		rec.Topic = strPtr(ch.Topic)
		rec.SlowmodeDelay = intPtr(ch.RateLimitPerUser)
		rec.DefaultAutoArchiveDuration = intPtr(defaultAutoArchiveMinutes)
	case KindVoice:
		rec.Bitrate = intPtr(ch.Bitrate)
		rec.UserLimit = intPtr(ch.UserLimit)
		rec.RTCRegion = strPtr("")
	case KindStage:
		rec.Topic = strPtr(ch.Topic)
		rec.UserLimit = intPtr(ch.UserLimit)
		rec.RTCRegion = strPtr("")
	}
	return rec
}

// defaultAutoArchiveMinutes matches Discord's thread auto-archive default.
const defaultAutoArchiveMinutes = 60

// SerializeCategory builds the record for a category channel, carrying the
// ids of its child channels. Child ordering is imposed later by the sorter.
func SerializeCategory(ch ChannelState, childIDs []string, overwrites []OverwriteRecord) *ChannelRecord {
	if ch.ID == "" || KindOf(ch.Type) != KindCategory {
		return nil
	}
	if childIDs == nil {
		childIDs = []string{}
	}
	return &ChannelRecord{
		ID:                   ch.ID,
		Name:                 ch.Name,
		Type:                 typeCodeCategory,
		Position:             ch.Position,
		PermissionOverwrites: overwrites,
		Children:             childIDs,
		Kind:                 KindCategory,
	}
}

// SerializeSystemChannel produces the compact record embedded in
// server_info for the rules, public-updates, and system channels.
func SerializeSystemChannel(ch ChannelState, parentName string, overwrites []OverwriteRecord) *ChannelRecord {
	if ch.ID == "" {
		return nil
	}
	rec := &ChannelRecord{
		ID:                   ch.ID,
		Name:                 ch.Name,
		Type:                 TypeCode(ch.Type),
		Position:             ch.Position,
		PermissionOverwrites: overwrites,
		Kind:                 KindOf(ch.Type),
	}
	rec.NSFW = boolPtr(ch.NSFW)
	rec.SlowmodeDelay = intPtr(ch.RateLimitPerUser)
	if parentName != "" {
		rec.Category = strPtr(parentName)
	}
	return rec
}

func SerializeBan(ban BanState) *BanRecord {
	if ban.UserID == "" {
		return nil
	}
	return &BanRecord{ID: ban.UserID, Reason: ban.Reason}
}

// SerializeEmoji pairs the emoji metadata with the local path its binary was
// downloaded to.
func SerializeEmoji(emoji EmojiState, localPath string) *EmojiRecord {
	if emoji.ID == "" {
		return nil
	}
	roles := emoji.Roles
	if roles == nil {
		roles = []string{}
	}
	return &EmojiRecord{
		ID:        emoji.ID,
		Name:      emoji.Name,
		Path:      localPath,
		URL:       emoji.URL,
		Animated:  emoji.Animated,
		Managed:   emoji.Managed,
		Available: emoji.Available,
		Roles:     roles,
	}
}

func SerializeSticker(sticker StickerState, localPath string) *StickerRecord {
	if sticker.ID == "" {
		return nil
	}
	return &StickerRecord{
		ID:          sticker.ID,
		Name:        sticker.Name,
		Description: sticker.Description,
		Emoji:       firstTag(sticker.Tags),
		Path:        localPath,
		URL:         sticker.URL,
		FormatType:  StickerFormatName(sticker.FormatType),
		Available:   sticker.Available,
	}
}

// StickerExtension maps a sticker format code to the extension its binary is
// stored under: Lottie stickers are JSON documents, GIF stickers are gifs,
// everything else is a PNG bitstream (APNG included).
func StickerExtension(formatType int) string {
	switch formatType {
	case stickerFormatLottie:
		return "json"
	case stickerFormatGIF:
		return "gif"
	default:
		return "png"
	}
}

// EmojiExtension maps the animated flag to the downloaded file extension.
func EmojiExtension(animated bool) string {
	if animated {
		return "gif"
	}
	return "png"
}

func StickerFormatName(formatType int) string {
	switch formatType {
	case stickerFormatPNG:
		return "PNG"
	case stickerFormatAPNG:
		return "APNG"
	case stickerFormatLottie:
		return "LOTTIE"
	case stickerFormatGIF:
		return "GIF"
	default:
		return "PNG"
	}
}

func firstTag(tags string) string {
	for i := 0; i < len(tags); i++ {
		if tags[i] == ',' {
			return tags[:i]
		}
	}
	return tags
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
func intPtr(i int) *int       { return &i }
