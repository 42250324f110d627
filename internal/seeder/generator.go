// Package seeder fabricates CQHTTP payloads for any shape in a registry. The
// payloads drive the sample command and load tests of the service.
package seeder

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/cqhawk/cqevent/pkg/event"
	"github.com/cqhawk/cqevent/pkg/message"
	"github.com/cqhawk/cqevent/pkg/shape"
)

// maxDiscriminatorDraws bounds the search for a discriminator value that
// resolves back to the requested shape.
const maxDiscriminatorDraws = 64

// Realistic sub_type values keyed by "<post_type>.<detail_type>".
var subTypes = map[string][]string{
	"message.private":       {"friend", "group", "other"},
	"message.group":         {"normal", "anonymous", "notice"},
	"notice.group_admin":    {"set", "unset"},
	"notice.group_decrease": {"leave", "kick", "kick_me"},
	"notice.group_increase": {"approve", "invite"},
	"notice.group_ban":      {"ban", "lift_ban"},
	"request.group":         {"add", "invite"},
	"meta_event.lifecycle":  {"enable", "disable", "connect"},
}

// Generator builds random payloads. It is not safe for concurrent use.
type Generator struct {
	registry *shape.Registry
	faker    *gofakeit.Faker
	now      func() time.Time
}

// New creates a Generator. A zero seed draws a random one.
func New(registry *shape.Registry, seed int64) *Generator {
	return &Generator{
		registry: registry,
		faker:    gofakeit.New(seed),
		now:      time.Now,
	}
}

// Generate builds a payload that classifies as the named shape.
func (g *Generator) Generate(name string) (*event.RawEvent, error) {
	s, ok := g.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown shape %q", name)
	}
	return g.build(s)
}

// Random picks a shape uniformly and builds a payload for it.
func (g *Generator) Random() (*event.RawEvent, *shape.Shape, error) {
	shapes := g.registry.Shapes()
	s := shapes[g.faker.Number(0, len(shapes)-1)]
	raw, err := g.build(s)
	return raw, s, err
}

// Batch builds n payloads. With no names every shape is eligible; otherwise
// the named shapes are used round-robin.
func (g *Generator) Batch(n int, names ...string) ([]*event.RawEvent, error) {
	out := make([]*event.RawEvent, 0, n)
	for i := 0; i < n; i++ {
		var (
			raw *event.RawEvent
			err error
		)
		if len(names) == 0 {
			raw, _, err = g.Random()
		} else {
			raw, err = g.Generate(names[i%len(names)])
		}
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func (g *Generator) build(s *shape.Shape) (*event.RawEvent, error) {
	raw := event.NewRawEvent()
	var msg message.Message

	for _, f := range s.Fields {
		if f.Optional && !g.faker.Bool() {
			continue
		}
		switch {
		case f.Type == shape.TypeMessage:
			msg = g.message()
			raw.Set(f.Name, msg)
		case f.Name == event.KeyRawMessage && f.Type == shape.TypeString && msg != nil:
			raw.Set(f.Name, cqString(msg))
		case isDiscriminator(s, f):
			v, err := g.discriminator(s, f, raw)
			if err != nil {
				return nil, err
			}
			raw.Set(f.Name, v)
		default:
			v, err := g.value(f.Name, f)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s.Name, err)
			}
			raw.Set(f.Name, v)
		}
	}
	return raw, nil
}

// isDiscriminator reports whether f is the free-form key one level below s.
func isDiscriminator(s *shape.Shape, f shape.Field) bool {
	if f.Type != shape.TypeString {
		return false
	}
	switch s.Level {
	case shape.LevelGeneric:
		return f.Name == event.KeyPostType
	case shape.LevelPost:
		return f.Name == event.DetailKey(s.PostType)
	case shape.LevelDetail:
		return f.Name == event.KeySubType
	}
	return false
}

// discriminator draws values until one resolves back to s.
func (g *Generator) discriminator(s *shape.Shape, f shape.Field, raw *event.RawEvent) (string, error) {
	known := subTypes[s.PostType+"."+s.DetailType]
	for i := 0; i < maxDiscriminatorDraws; i++ {
		var candidate string
		if len(known) > 0 && i < len(known)*2 {
			candidate = g.faker.RandomString(known)
		} else {
			candidate = strings.ToLower(g.faker.Word())
		}

		var res shape.Resolution
		switch s.Level {
		case shape.LevelGeneric:
			res = g.registry.Resolve(candidate, "", "")
		case shape.LevelPost:
			res = g.registry.Resolve(s.PostType, candidate, "")
		default:
			res = g.registry.Resolve(s.PostType, s.DetailType, candidate)
		}
		if res.Shape == s {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: no value for %s resolves to the shape", s.Name, f.Name)
}

func (g *Generator) value(path string, f shape.Field) (any, error) {
	switch f.Type {
	case shape.TypeTag:
		return f.Tag, nil
	case shape.TypeInt:
		return g.intValue(path), nil
	case shape.TypeBool:
		return g.faker.Bool(), nil
	case shape.TypeString:
		return g.stringValue(path), nil
	case shape.TypeMessage:
		return g.message(), nil
	case shape.TypeRecord:
		if f.Nullable && g.faker.Bool() {
			return nil, nil
		}
		return g.record(path, f.Record)
	}
	return nil, fmt.Errorf("field %s: unsupported type %s", path, f.Type)
}

func (g *Generator) record(path, name string) (map[string]any, error) {
	rec, ok := g.registry.Record(name)
	if !ok {
		return nil, fmt.Errorf("field %s: unknown record %s", path, name)
	}
	out := make(map[string]any, len(rec.Fields))
	for _, f := range rec.Fields {
		if f.Optional && !g.faker.Bool() {
			continue
		}
		v, err := g.value(path+"."+f.Name, f)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func (g *Generator) intValue(path string) int64 {
	switch path {
	case event.KeyTime:
		return g.now().Add(-time.Duration(g.faker.Number(0, 86400)) * time.Second).Unix()
	case event.KeySelfID, event.KeyUserID, "target_id", "operator_id", "sender.user_id", "anonymous.id":
		return int64(g.faker.Number(10000, math.MaxInt32))
	case event.KeyGroupID:
		return int64(g.faker.Number(100000, 999999999))
	case event.KeyMessageID:
		return int64(g.faker.Number(1, math.MaxInt32))
	case "duration":
		return int64(g.faker.Number(60, 30*24*3600))
	case "file.size":
		return int64(g.faker.Number(1024, 100<<20))
	case "file.busid":
		return int64(g.faker.RandomInt([]int{102, 104}))
	case "interval":
		return 5000
	case "font":
		return 0
	case "sender.age":
		return int64(g.faker.Number(12, 70))
	}
	return int64(g.faker.Number(0, 1000000))
}

func (g *Generator) stringValue(path string) string {
	switch path {
	case "sender.nickname":
		return g.faker.Username()
	case "sender.card":
		return g.faker.FirstName()
	case "sender.sex":
		return g.faker.RandomString([]string{"male", "female", "unknown"})
	case "sender.area":
		return g.faker.City()
	case "sender.level":
		return strconv.Itoa(g.faker.Number(1, 100))
	case "sender.role":
		return g.faker.RandomString([]string{"owner", "admin", "member"})
	case "sender.title":
		return g.faker.JobTitle()
	case "anonymous.name":
		return g.faker.Animal()
	case "anonymous.flag", event.KeyFlag:
		return g.faker.UUID()
	case "file.id":
		return "/" + g.faker.UUID()
	case "file.name":
		return strings.ToLower(g.faker.Word()) + "." + g.faker.FileExtension()
	case "comment":
		return g.faker.Sentence(6)
	case "honor_type":
		return g.faker.RandomString([]string{"talkative", "performer", "emotion"})
	}
	return strings.ToLower(g.faker.Word())
}

func (g *Generator) message() message.Message {
	msg := message.Message{message.Text(g.faker.Sentence(g.faker.Number(2, 8)))}
	if g.faker.Bool() {
		msg = msg.Append(message.Segment{
			Type: "at",
			Data: map[string]any{"qq": strconv.Itoa(g.faker.Number(10000, 999999999))},
		})
	}
	if g.faker.Bool() {
		msg = msg.Append(message.Segment{
			Type: "face",
			Data: map[string]any{"id": strconv.Itoa(g.faker.Number(0, 221))},
		})
	}
	return msg
}

// cqString renders msg in CQ code form, the format of raw_message.
func cqString(msg message.Message) string {
	var b strings.Builder
	for _, seg := range msg {
		if seg.IsText() {
			text, _ := seg.Data["text"].(string)
			b.WriteString(escapeCQ(text, false))
			continue
		}
		b.WriteString("[CQ:")
		b.WriteString(seg.Type)
		for _, key := range slices.Sorted(maps.Keys(seg.Data)) {
			b.WriteString(",")
			b.WriteString(key)
			b.WriteString("=")
			b.WriteString(escapeCQ(fmt.Sprint(seg.Data[key]), true))
		}
		b.WriteString("]")
	}
	return b.String()
}

func escapeCQ(s string, inParam bool) string {
	r := strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;")
	s = r.Replace(s)
	if inParam {
		s = strings.ReplaceAll(s, ",", "&#44;")
	}
	return s
}
