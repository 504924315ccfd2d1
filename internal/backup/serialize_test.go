package backup

import (
	"encoding/json"
	"testing"
)

func TestSerializeRolesExcludesEveryone(t *testing.T) {
	roles := []RoleState{
		{ID: "g1", Name: "@everyone", Permissions: 104324673},
		{ID: "r1", Name: "Mods", Permissions: 8, Color: 0x5865F2, Hoist: true, Position: 3},
	}
	out := SerializeRoles("g1", roles)
	if len(out) != 1 {
		t.Fatalf("expected 1 role, got %d", len(out))
	}
	if out[0].ID != "r1" || out[0].Name != "Mods" {
		t.Fatalf("unexpected role %+v", out[0])
	}
}

func TestSerializeRolesSyntheticEveryone(t *testing.T) {
	out := SerializeRoles("g1", []RoleState{{ID: "g1", Name: "@everyone"}})
	if len(out) != 1 {
		t.Fatalf("expected synthetic placeholder, got %d roles", len(out))
	}
	if out[0].Name != "@everyone" {
		t.Fatalf("expected @everyone placeholder, got %q", out[0].Name)
	}
}

func TestPermissionsRoundTripBeyondSafeInteger(t *testing.T) {
	big := int64(1)<<53 + 7
	rec := RoleRecord{ID: "r1", Name: "big", Permissions: Permissions(big)}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	s, ok := raw["permissions"].(string)
	if !ok {
		t.Fatalf("expected permissions as string, got %T", raw["permissions"])
	}
	if s != "9007199254740999" {
		t.Fatalf("expected exact value, got %q", s)
	}

	var back RoleRecord
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if int64(back.Permissions) != big {
		t.Fatalf("round trip lost precision: %d != %d", back.Permissions, big)
	}
}

func TestPermissionsSmallValueStaysNumeric(t *testing.T) {
	data, err := json.Marshal(Permissions(8))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "8" {
		t.Fatalf("expected plain number, got %s", data)
	}
}

// resolver is a minimal Source for overwrite tests; fakeSource supplies the
// rest of the interface.
type resolver struct {
	fakeSource
	targets map[string][2]string
}

func (r *resolver) ResolveTarget(id string) (string, string, bool) {
	entry, ok := r.targets[id]
	if !ok {
		return "", "", false
	}
	return entry[0], entry[1], true
}

func TestSerializeOverwritesDropsUnresolvable(t *testing.T) {
	src := &resolver{targets: map[string][2]string{
		"r1": {"Mods", "role"},
		"u1": {"alice", "member"},
	}}
	out := SerializeOverwrites(src, []OverwriteState{
		{ID: "r1", Allow: 1024, Deny: 0},
		{ID: "gone", Allow: 2048, Deny: 0},
		{ID: "u1", Allow: 0, Deny: 8192},
	})
	if len(out) != 2 {
		t.Fatalf("expected unresolvable target dropped, got %d overwrites", len(out))
	}
	if out[0].Type != "role" || out[0].Name != "Mods" {
		t.Fatalf("unexpected first overwrite %+v", out[0])
	}
	if out[1].Type != "member" || out[1].Name != "alice" {
		t.Fatalf("unexpected second overwrite %+v", out[1])
	}
}

func TestSerializeChannelVariants(t *testing.T) {
	tests := []struct {
		name  string
		ch    ChannelState
		check func(t *testing.T, rec *ChannelRecord)
	}{
		{
			name: "text",
			ch:   ChannelState{ID: "c1", Name: "general", Type: typeCodeText, NSFW: true, Topic: "hello", RateLimitPerUser: 5},
			check: func(t *testing.T, rec *ChannelRecord) {
				if rec.NSFW == nil || !*rec.NSFW {
					t.Fatalf("expected nsfw set")
				}
				if rec.Topic == nil || *rec.Topic != "hello" {
					t.Fatalf("expected topic set")
				}
				if rec.SlowmodeDelay == nil || *rec.SlowmodeDelay != 5 {
					t.Fatalf("expected slowmode 5")
				}
				if rec.Bitrate != nil || rec.UserLimit != nil {
					t.Fatalf("text channel must not carry voice fields")
				}
			},
		},
		{
			name: "voice",
			ch:   ChannelState{ID: "c2", Name: "voice", Type: typeCodeVoice, Bitrate: 64000, UserLimit: 10},
			check: func(t *testing.T, rec *ChannelRecord) {
				if rec.Bitrate == nil || *rec.Bitrate != 64000 {
					t.Fatalf("expected bitrate set")
				}
				if rec.UserLimit == nil || *rec.UserLimit != 10 {
					t.Fatalf("expected user limit set")
				}
				if rec.NSFW != nil || rec.Topic != nil {
					t.Fatalf("voice channel must not carry text fields")
				}
			},
		},
		{
			name: "stage",
			ch:   ChannelState{ID: "c3", Name: "stage", Type: typeCodeStage, Topic: "talk", UserLimit: 50},
			check: func(t *testing.T, rec *ChannelRecord) {
				if rec.Topic == nil || *rec.Topic != "talk" {
					t.Fatalf("expected stage topic")
				}
				if rec.UserLimit == nil || *rec.UserLimit != 50 {
					t.Fatalf("expected stage user limit")
				}
				if rec.Bitrate != nil {
					t.Fatalf("stage record must not carry bitrate")
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := SerializeChannel(tc.ch, "", nil)
			if rec == nil {
				t.Fatalf("expected record")
			}
			tc.check(t, rec)
		})
	}
}

func TestSerializeChannelRejectsCategory(t *testing.T) {
	if rec := SerializeChannel(ChannelState{ID: "c1", Type: typeCodeCategory}, "", nil); rec != nil {
		t.Fatalf("category must go through SerializeCategory")
	}
}

func TestSerializeCategoryChildren(t *testing.T) {
	rec := SerializeCategory(ChannelState{ID: "cat", Name: "Stuff", Type: typeCodeCategory}, nil, nil)
	if rec == nil {
		t.Fatalf("expected record")
	}
	if rec.Children == nil || len(rec.Children) != 0 {
		t.Fatalf("expected empty non-nil child list, got %#v", rec.Children)
	}
	if !IsCategory(rec) {
		t.Fatalf("category record must satisfy IsCategory")
	}
}

func TestTypeCodeDecodesLegacyAliases(t *testing.T) {
	tests := []struct {
		in   string
		want TypeCode
	}{
		{`4`, typeCodeCategory},
		{`"4"`, typeCodeCategory},
		{`"category"`, typeCodeCategory},
		{`0`, typeCodeText},
		{`"13"`, typeCodeStage},
	}
	for _, tc := range tests {
		var code TypeCode
		if err := json.Unmarshal([]byte(tc.in), &code); err != nil {
			t.Fatalf("decode %s: %v", tc.in, err)
		}
		if code != tc.want {
			t.Fatalf("decode %s: got %d want %d", tc.in, code, tc.want)
		}
	}
}

func TestStickerExtension(t *testing.T) {
	tests := []struct {
		format int
		want   string
	}{
		{stickerFormatPNG, "png"},
		{stickerFormatAPNG, "png"},
		{stickerFormatLottie, "json"},
		{stickerFormatGIF, "gif"},
		{99, "png"},
	}
	for _, tc := range tests {
		if got := StickerExtension(tc.format); got != tc.want {
			t.Fatalf("format %d: got %s want %s", tc.format, got, tc.want)
		}
	}
}

func TestSerializeStickerFirstTag(t *testing.T) {
	rec := SerializeSticker(StickerState{ID: "s1", Name: "wave", Tags: "wave,hello", FormatType: stickerFormatLottie}, "stickers/s1.json")
	if rec == nil {
		t.Fatalf("expected record")
	}
	if rec.Emoji != "wave" {
		t.Fatalf("expected first tag, got %q", rec.Emoji)
	}
	if rec.FormatType != "LOTTIE" {
		t.Fatalf("expected LOTTIE, got %q", rec.FormatType)
	}
}
