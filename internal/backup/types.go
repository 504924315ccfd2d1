package backup

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// maxSafeInteger is the largest integer a double-precision float can hold
// without rounding. Bitfields beyond it are written as decimal strings so
// downstream JSON consumers cannot silently corrupt them.
const maxSafeInteger = int64(1) << 53

// Permissions is a 64-bit Discord permission bitfield. It marshals as a JSON
// number when the value fits in ±2^53 and as a decimal string otherwise.
type Permissions int64

func (p Permissions) MarshalJSON() ([]byte, error) {
	v := int64(p)
	if v > maxSafeInteger || v < -maxSafeInteger {
		return json.Marshal(strconv.FormatInt(v, 10))
	}
	return json.Marshal(v)
}

func (p *Permissions) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid permission bitfield %s: %w", data, err)
	}
	*p = Permissions(v)
	return nil
}

// ChannelKind is the tagged channel discriminator, resolved once from the
// raw Discord type code when a channel is serialized.
type ChannelKind int

const (
	KindText ChannelKind = iota
	KindVoice
	KindCategory
	KindStage
	KindAnnouncement
	KindOther
)

// Raw Discord channel type codes.
const (
	typeCodeText         = 0
	typeCodeVoice        = 2
	typeCodeCategory     = 4
	typeCodeAnnouncement = 5
	typeCodeStage        = 13
)

// TypeCode is the on-disk channel type discriminator. Current snapshots
// carry the numeric Discord code; snapshots from older exporters carry a
// string ("4" or "category"), which decodes to the numeric form.
type TypeCode int

func (t TypeCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(t))
}

func (t *TypeCode) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "category" {
		*t = typeCodeCategory
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid channel type %s: %w", data, err)
	}
	*t = TypeCode(v)
	return nil
}

// Snapshot is the root record of one backup run. Array fields are always
// present and never nil, even when a section failed.
type Snapshot struct {
	BackupInfo  BackupInfo      `json:"backup_info"`
	ServerInfo  ServerInfo      `json:"server_info"`
	Roles       []RoleRecord    `json:"roles_data"`
	Channels    []ChannelRecord `json:"channels_data"`
	Emojis      []EmojiRecord   `json:"emojis_data"`
	Stickers    []StickerRecord `json:"stickers_data"`
	BannedUsers []BanRecord     `json:"banned_users"`
}

type BackupInfo struct {
	Timestamp string `json:"timestamp"`
	Creator   string `json:"creator"`
	Error     string `json:"error,omitempty"`
}

type ServerInfo struct {
	Name                 string         `json:"name"`
	ID                   string         `json:"id"`
	IsCommunity          bool           `json:"is_community"`
	RulesChannel         *ChannelRecord `json:"rules_channel"`
	PublicUpdatesChannel *ChannelRecord `json:"public_updates_channel"`
	SystemChannel        *ChannelRecord `json:"system_channel"`
}

type RoleRecord struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Permissions Permissions `json:"permissions"`
	Colour      int         `json:"colour"`
	Hoist       bool        `json:"hoist"`
	Mentionable bool        `json:"mentionable"`
	Position    int         `json:"position"`
}

// ChannelRecord covers every channel kind. Kind selects which of the
// optional field groups is populated; serializers construct records through
// the per-kind helpers in serialize.go so a record never carries fields
// outside its kind.
type ChannelRecord struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Type                 TypeCode          `json:"type"`
	Position             int               `json:"position"`
	PermissionOverwrites []OverwriteRecord `json:"permission_overwrites"`

	// category only: ordered child channel ids
	Children []string `json:"channels,omitempty"`

	// non-category only
	ParentID *string `json:"parent_id,omitempty"`
	Category *string `json:"category,omitempty"`

	// text / announcement
	NSFW                       *bool   `json:"nsfw,omitempty"`
	Topic                      *string `json:"topic,omitempty"`
	SlowmodeDelay              *int    `json:"slowmode_delay,omitempty"`
	DefaultAutoArchiveDuration *int    `json:"default_auto_archive_duration,omitempty"`

	// voice / stage
	Bitrate   *int    `json:"bitrate,omitempty"`
	UserLimit *int    `json:"user_limit,omitempty"`
	RTCRegion *string `json:"rtc_region,omitempty"`

	Kind ChannelKind `json:"-"`
}

type OverwriteRecord struct {
	ID    string      `json:"id"`
	Type  string      `json:"type"`
	Name  string      `json:"name"`
	Allow Permissions `json:"allow"`
	Deny  Permissions `json:"deny"`
}

type EmojiRecord struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	URL       string   `json:"url"`
	Animated  bool     `json:"animated"`
	Managed   bool     `json:"managed"`
	Available bool     `json:"available"`
	Roles     []string `json:"roles"`
}

type StickerRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
	Path        string `json:"path"`
	URL         string `json:"url"`
	FormatType  string `json:"format_type"`
	Available   bool   `json:"available"`
}

type BanRecord struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// NewSnapshot returns a Snapshot with every array field initialised, so a
// partially failed run still satisfies the array-never-null invariant.
func NewSnapshot(timestamp, creator string) *Snapshot {
	return &Snapshot{
		BackupInfo:  BackupInfo{Timestamp: timestamp, Creator: creator},
		Roles:       []RoleRecord{},
		Channels:    []ChannelRecord{},
		Emojis:      []EmojiRecord{},
		Stickers:    []StickerRecord{},
		BannedUsers: []BanRecord{},
	}
}

// IsCategory is the single authority for "is this channel a category".
// All sorting and filtering routes through it.
func IsCategory(c *ChannelRecord) bool {
	if c == nil {
		return false
	}
	return c.Type == typeCodeCategory
}
