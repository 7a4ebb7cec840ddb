package providers

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/go-go-golems/conflict-sim/pkg/conversation"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// agentReply is the wire shape every provider is asked to answer with.
type agentReply struct {
	Msg  string `json:"msg" jsonschema:"minLength=1,description=The in-character response message"`
	Mood string `json:"mood" jsonschema:"description=The speaker's mood for this message"`
}

var (
	replySchemaOnce sync.Once
	replySchema     *gojsonschema.Schema
	replySchemaErr  error
)

// ReplySchema returns the JSON schema of the reply contract.
func ReplySchema() (map[string]interface{}, error) {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	b, err := json.Marshal(r.Reflect(&agentReply{}))
	if err != nil {
		return nil, err
	}
	var ret map[string]interface{}
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, err
	}
	// gojsonschema only knows drafts up to 7
	delete(ret, "$schema")
	delete(ret, "$id")
	return ret, nil
}

func compiledReplySchema() (*gojsonschema.Schema, error) {
	replySchemaOnce.Do(func() {
		var raw map[string]interface{}
		raw, replySchemaErr = ReplySchema()
		if replySchemaErr != nil {
			return
		}
		replySchema, replySchemaErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	})
	return replySchema, replySchemaErr
}

// ExtractJSON strips markdown code fences some models wrap their JSON in.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)
	if _, after, ok := strings.Cut(content, "```json"); ok {
		block, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(block)
	}
	if _, after, ok := strings.Cut(content, "```"); ok {
		block, _, _ := strings.Cut(after, "```")
		return strings.TrimSpace(block)
	}
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}

// ParseReply decodes and validates a provider answer. A mood outside the
// known set is replaced by neutral rather than rejected.
func ParseReply(content string) (Reply, error) {
	doc := ExtractJSON(content)
	if doc == "" {
		return Reply{}, errors.New("empty reply")
	}

	schema, err := compiledReplySchema()
	if err != nil {
		return Reply{}, errors.Wrap(err, "could not compile reply schema")
	}
	result, err := schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return Reply{}, errors.Wrap(err, "reply is not valid JSON")
	}
	if !result.Valid() {
		reasons := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			reasons = append(reasons, e.String())
		}
		return Reply{}, errors.Errorf("invalid reply format: %s", strings.Join(reasons, "; "))
	}

	var raw agentReply
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		return Reply{}, errors.Wrap(err, "could not decode reply")
	}

	mood, err := conversation.ParseMood(raw.Mood)
	if err != nil {
		log.Warn().Str("mood", raw.Mood).Msg("Invalid mood in reply, defaulting to neutral")
		mood = conversation.MoodNeutral
	}

	return Reply{Msg: raw.Msg, Mood: mood}, nil
}
