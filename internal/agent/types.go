package agent

import (
	"fmt"
	"time"

	"github.com/nidhogg/parley/internal/document"
	"go.mongodb.org/mongo-driver/bson"
)

// Tone is the style of the assistant's replies.
type Tone string

const (
	ToneNeutral      Tone = "neutral"
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"

	DefaultTone = ToneNeutral
)

// Creativity controls sampling temperature in four fixed steps.
type Creativity float64

const (
	CreativityLow    Creativity = 0.2
	CreativityMedium Creativity = 0.5
	CreativityHigh   Creativity = 0.7
	CreativityMax    Creativity = 1.0

	DefaultCreativity = CreativityMedium
)

// ModelName identifies which LLM answers for the agent.
type ModelName string

const (
	ModelGPT4oMini    ModelName = "gpt-4o-mini"
	ModelGPT4o        ModelName = "gpt-4o"
	ModelDeepseekChat ModelName = "deepseek-chat"

	DefaultModel = ModelGPT4oMini
)

// ReleaseType is the agent's release stage.
type ReleaseType string

const (
	ReleasePrivate ReleaseType = "private"
	ReleasePublic  ReleaseType = "public"

	DefaultRelease = ReleasePrivate
)

// ResponseLength is the length category of replies.
type ResponseLength string

const (
	LengthShort  ResponseLength = "short"
	LengthMedium ResponseLength = "medium"
	LengthLong   ResponseLength = "long"

	DefaultLength = LengthMedium
)

// Language is the reply language.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageFarsi   Language = "fa"

	DefaultLanguage = LanguageEnglish
)

// Role is the agent's occupation from the closed five-role set.
type Role string

const (
	RoleSmartAssistant Role = "smart_assistant"
	RoleDeveloper      Role = "developer"
	RoleLawyer         Role = "lawyer"
	RoleTranslator     Role = "translator"
	RoleProjectManager Role = "project_manager"

	DefaultRole = RoleSmartAssistant
)

// ResponseSettings is the nested per-agent reply configuration.
type ResponseSettings struct {
	Tone           Tone           `json:"tone" bson:"tone"`
	Creativity     Creativity     `json:"creativity" bson:"creativity"`
	Model          ModelName      `json:"model" bson:"model"`
	ReleaseType    ReleaseType    `json:"release_type" bson:"release_type"`
	ResponseLength ResponseLength `json:"response_length" bson:"response_length"`
	Language       Language       `json:"language" bson:"language"`
}

// Agent is a stored assistant configuration.
type Agent struct {
	ID               string           `json:"id" bson:"-"`
	Name             string           `json:"name" bson:"name"`
	Description      string           `json:"description,omitempty" bson:"description"`
	WelcomeMessage   string           `json:"welcome_message,omitempty" bson:"welcome_message"`
	SystemPrompt     string           `json:"system_prompt,omitempty" bson:"system_prompt"`
	ResponseSettings ResponseSettings `json:"response_settings" bson:"response_settings"`
	Keywords         []string         `json:"keywords_list" bson:"keywords_list"`
	ExceptionWords   []string         `json:"exception_words" bson:"exception_words"`
	Indices          []string         `json:"indices" bson:"indices"`
	Files            []string         `json:"files" bson:"files"`
	Role             Role             `json:"role" bson:"role"`
	CreatedAt        time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" bson:"updated_at"`
}

// Create is the shape of a new agent: everything but id and timestamps.
type Create struct {
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	WelcomeMessage   string           `json:"welcome_message"`
	SystemPrompt     string           `json:"system_prompt"`
	ResponseSettings ResponseSettings `json:"response_settings"`
	Keywords         []string         `json:"keywords_list"`
	ExceptionWords   []string         `json:"exception_words"`
	Indices          []string         `json:"indices"`
	Files            []string         `json:"files"`
	Role             Role             `json:"role"`
}

// applyDefaults fills zero-valued enum fields with their documented defaults.
func (c *Create) applyDefaults() {
	rs := &c.ResponseSettings
	if rs.Tone == "" {
		rs.Tone = DefaultTone
	}
	if rs.Creativity == 0 {
		rs.Creativity = DefaultCreativity
	}
	if rs.Model == "" {
		rs.Model = DefaultModel
	}
	if rs.ReleaseType == "" {
		rs.ReleaseType = DefaultRelease
	}
	if rs.ResponseLength == "" {
		rs.ResponseLength = DefaultLength
	}
	if rs.Language == "" {
		rs.Language = DefaultLanguage
	}
	if c.Role == "" {
		c.Role = DefaultRole
	}
	if c.Keywords == nil {
		c.Keywords = []string{}
	}
	if c.ExceptionWords == nil {
		c.ExceptionWords = []string{}
	}
	if c.Indices == nil {
		c.Indices = []string{}
	}
	if c.Files == nil {
		c.Files = []string{}
	}
}

// Update is a sparse override set: nil fields are left untouched,
// list-valued fields replace wholesale.
type Update struct {
	Description      *string                 `json:"description"`
	WelcomeMessage   *string                 `json:"welcome_message"`
	SystemPrompt     *string                 `json:"system_prompt"`
	ResponseSettings *ResponseSettingsUpdate `json:"response_settings"`
	Keywords         *[]string               `json:"keywords_list"`
	ExceptionWords   *[]string               `json:"exception_words"`
	Indices          *[]string               `json:"indices"`
	Files            *[]string               `json:"files"`
	Role             *Role                   `json:"role"`
}

// ResponseSettingsUpdate is a sparse override of the nested settings record.
type ResponseSettingsUpdate struct {
	Tone           *Tone           `json:"tone"`
	Creativity     *Creativity     `json:"creativity"`
	Model          *ModelName      `json:"model"`
	ReleaseType    *ReleaseType    `json:"release_type"`
	ResponseLength *ResponseLength `json:"response_length"`
	Language       *Language       `json:"language"`
}

// Validate rejects enum values outside the closed sets before any merge runs.
func (u *Update) Validate() error {
	if u.Role != nil {
		switch *u.Role {
		case RoleSmartAssistant, RoleDeveloper, RoleLawyer, RoleTranslator, RoleProjectManager:
		default:
			return fmt.Errorf("%w: role %q", ErrValidation, *u.Role)
		}
	}
	rs := u.ResponseSettings
	if rs == nil {
		return nil
	}
	if rs.Tone != nil {
		switch *rs.Tone {
		case ToneNeutral, ToneFriendly, ToneProfessional, ToneCasual, ToneFormal:
		default:
			return fmt.Errorf("%w: tone %q", ErrValidation, *rs.Tone)
		}
	}
	if rs.Creativity != nil {
		switch *rs.Creativity {
		case CreativityLow, CreativityMedium, CreativityHigh, CreativityMax:
		default:
			return fmt.Errorf("%w: creativity %v", ErrValidation, *rs.Creativity)
		}
	}
	if rs.Model != nil {
		switch *rs.Model {
		case ModelGPT4oMini, ModelGPT4o, ModelDeepseekChat:
		default:
			return fmt.Errorf("%w: model %q", ErrValidation, *rs.Model)
		}
	}
	if rs.ReleaseType != nil {
		switch *rs.ReleaseType {
		case ReleasePrivate, ReleasePublic:
		default:
			return fmt.Errorf("%w: release_type %q", ErrValidation, *rs.ReleaseType)
		}
	}
	if rs.ResponseLength != nil {
		switch *rs.ResponseLength {
		case LengthShort, LengthMedium, LengthLong:
		default:
			return fmt.Errorf("%w: response_length %q", ErrValidation, *rs.ResponseLength)
		}
	}
	if rs.Language != nil {
		switch *rs.Language {
		case LanguageEnglish, LanguageFarsi:
		default:
			return fmt.Errorf("%w: language %q", ErrValidation, *rs.Language)
		}
	}
	return nil
}

// Overrides builds the sparse override document: only fields the caller set.
func (u *Update) Overrides() document.Document {
	doc := document.Document{}
	if u.Description != nil {
		doc["description"] = *u.Description
	}
	if u.WelcomeMessage != nil {
		doc["welcome_message"] = *u.WelcomeMessage
	}
	if u.SystemPrompt != nil {
		doc["system_prompt"] = *u.SystemPrompt
	}
	if rs := u.ResponseSettings; rs != nil {
		sub := map[string]any{}
		if rs.Tone != nil {
			sub["tone"] = string(*rs.Tone)
		}
		if rs.Creativity != nil {
			sub["creativity"] = float64(*rs.Creativity)
		}
		if rs.Model != nil {
			sub["model"] = string(*rs.Model)
		}
		if rs.ReleaseType != nil {
			sub["release_type"] = string(*rs.ReleaseType)
		}
		if rs.ResponseLength != nil {
			sub["response_length"] = string(*rs.ResponseLength)
		}
		if rs.Language != nil {
			sub["language"] = string(*rs.Language)
		}
		if len(sub) > 0 {
			doc["response_settings"] = sub
		}
	}
	if u.Keywords != nil {
		doc["keywords_list"] = toAnySlice(*u.Keywords)
	}
	if u.ExceptionWords != nil {
		doc["exception_words"] = toAnySlice(*u.ExceptionWords)
	}
	if u.Indices != nil {
		doc["indices"] = toAnySlice(*u.Indices)
	}
	if u.Files != nil {
		doc["files"] = toAnySlice(*u.Files)
	}
	if u.Role != nil {
		doc["role"] = string(*u.Role)
	}
	return doc
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// toDocument renders the agent as its stored document (id excluded; the
// store keys on it separately).
func (a *Agent) toDocument() document.Document {
	rs := a.ResponseSettings
	return document.Document{
		"name":            a.Name,
		"description":     a.Description,
		"welcome_message": a.WelcomeMessage,
		"system_prompt":   a.SystemPrompt,
		"response_settings": map[string]any{
			"tone":            string(rs.Tone),
			"creativity":      float64(rs.Creativity),
			"model":           string(rs.Model),
			"release_type":    string(rs.ReleaseType),
			"response_length": string(rs.ResponseLength),
			"language":        string(rs.Language),
		},
		"keywords_list":   toAnySlice(a.Keywords),
		"exception_words": toAnySlice(a.ExceptionWords),
		"indices":         toAnySlice(a.Indices),
		"files":           toAnySlice(a.Files),
		"role":            string(a.Role),
		"created_at":      a.CreatedAt,
		"updated_at":      a.UpdatedAt,
	}
}

// fromDocument decodes a stored document back into an Agent. The document
// may hold driver-native types (primitive.DateTime, primitive.A); a bson
// round-trip normalizes them against the struct tags.
func fromDocument(id string, doc document.Document) (*Agent, error) {
	raw, err := bson.Marshal(bson.M(doc))
	if err != nil {
		return nil, fmt.Errorf("encode agent %s: %w", id, err)
	}
	var a Agent
	if err := bson.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", id, err)
	}
	a.ID = id
	return &a, nil
}
