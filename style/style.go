// Package style holds the closed set of persona styles and the system
// instructions, greetings and quick prompts derived from them.
package style

import (
	"strings"

	"github.com/pkg/errors"
)

// Style selects which system-instruction variant is sent with a request.
type Style string

const (
	Classic   Style = "classic"
	Street    Style = "street"
	Executive Style = "executive"
	Counselor Style = "counselor"
)

// Default is used when a caller does not pick a style.
const Default = Classic

// CreatorName is the developer every persona credits.
const CreatorName = "Joshua Randolph"

// CreatorIdentity is the sentence every persona must give when asked who built it.
const CreatorIdentity = "I was built by " + CreatorName + "."

// ErrUnknownStyle is returned by Parse for names outside the closed set.
var ErrUnknownStyle = errors.New("unknown style")

// Option describes a style for pickers.
type Option struct {
	ID          Style  `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Greeting    string `json:"greeting"`
}

// Shortcut is a canned prompt offered before the conversation gets going.
type Shortcut struct {
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

var options = []Option{
	{ID: Classic, Label: "Classic", Description: "Balanced Kolokwa",
		Greeting: "Hello! I’m your AI assistant, built by " + CreatorName + ". How you feeling today?"},
	{ID: Street, Label: "Street", Description: "Deep Street Slang",
		Greeting: "Hello my man, I be your AI bot, " + CreatorName + " build me. How the body?"},
	{ID: Executive, Label: "Executive", Description: "Professional Tone",
		Greeting: "Hello. I am an AI assistant developed by " + CreatorName + ". How may I assist you today?"},
	{ID: Counselor, Label: "Counselor", Description: "Empathetic & Wise",
		Greeting: "Greetings. I am an AI assistant built by " + CreatorName + ", created to serve and help."},
}

var shortcuts = []Shortcut{
	{Label: "Casual Street 🇱🇷", Prompt: "Hello my man, how things looking today?"},
	{Label: "Formal 👔", Prompt: "Good afternoon. I require some professional assistance."},
	{Label: "Church ⛪", Prompt: "Greetings in the name of the Lord. I have a question about ministry."},
}

// ShortcutLimit is the conversation length after which shortcuts are no longer offered.
const ShortcutLimit = 10

// All returns every style in picker order.
func All() []Style {
	out := make([]Style, len(options))
	for i, o := range options {
		out[i] = o.ID
	}
	return out
}

// Options returns the picker descriptions in order.
func Options() []Option {
	out := make([]Option, len(options))
	copy(out, options)
	return out
}

// Shortcuts returns the quick prompts for a conversation of the given length.
// Nil once the conversation has ShortcutLimit turns or more.
func Shortcuts(turns int) []Shortcut {
	if turns >= ShortcutLimit {
		return nil
	}
	out := make([]Shortcut, len(shortcuts))
	copy(out, shortcuts)
	return out
}

// Parse resolves a style name, case-insensitively. An empty name yields Default.
func Parse(name string) (Style, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Default, nil
	}
	for _, o := range options {
		if string(o.ID) == name {
			return o.ID, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownStyle, "%q", name)
}

// Valid reports whether s is part of the closed set.
func (s Style) Valid() bool {
	_, ok := lookup(s)
	return ok
}

// Label returns the human-readable picker label, or the raw id for unknown styles.
func (s Style) Label() string {
	if o, ok := lookup(s); ok {
		return o.Label
	}
	return string(s)
}

// Greeting returns the opening message for the style. Unknown styles get the classic greeting.
func (s Style) Greeting() string {
	if o, ok := lookup(s); ok {
		return o.Greeting
	}
	return options[0].Greeting
}

func lookup(s Style) (Option, bool) {
	for _, o := range options {
		if o.ID == s {
			return o, true
		}
	}
	return Option{}, false
}
