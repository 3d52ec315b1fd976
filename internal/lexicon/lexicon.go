// Package lexicon holds the command names and reply texts the bot uses.
// Defaults can be overridden from a TOML file.
package lexicon

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Commands are the slash commands understood by the bot, without the leading slash.
type Commands struct {
	Start      string `toml:"start"`
	Restart    string `toml:"restart"`
	Auth       string `toml:"auth"`
	GetTask    string `toml:"get_task"`
	Notes      string `toml:"notes"`
	CreateNote string `toml:"create_note"`
	Search     string `toml:"search"`
	Help       string `toml:"help"`
	Status     string `toml:"status"`
}

// Messages are the reply texts. Entries containing %s or %d are format strings.
type Messages struct {
	Welcome            string `toml:"welcome"`
	Menu               string `toml:"menu"`
	Help               string `toml:"help"`
	AskEmail           string `toml:"ask_email"`
	AskPassword        string `toml:"ask_password"`
	AskTelegram        string `toml:"ask_telegram"`
	AuthSuccess        string `toml:"auth_success"`
	AuthError          string `toml:"auth_error"`
	AuthMismatch       string `toml:"auth_mismatch"`
	LinkError          string `toml:"link_error"`
	AuthRequired       string `toml:"auth_required"`
	SessionExpired     string `toml:"session_expired"`
	AskTaskName        string `toml:"ask_task_name"`
	TaskFound          string `toml:"task_found"`
	TaskNotFound       string `toml:"task_not_found"`
	TaskLookupError    string `toml:"task_lookup_error"`
	NotesHeader        string `toml:"notes_header"`
	NotesEmpty         string `toml:"notes_empty"`
	NotesError         string `toml:"notes_error"`
	AskNote            string `toml:"ask_note"`
	NoteCreated        string `toml:"note_created"`
	NoteRejected       string `toml:"note_rejected"`
	NoteError          string `toml:"note_error"`
	AskTag             string `toml:"ask_tag"`
	SingleTagOnly      string `toml:"single_tag_only"`
	SearchHeader       string `toml:"search_header"`
	SearchEmpty        string `toml:"search_empty"`
	SearchError        string `toml:"search_error"`
	Status             string `toml:"status"`
	StatusTokenExpires string `toml:"status_token_expires"`
	InternalError      string `toml:"internal_error"`
}

// Lexicon groups commands, menu buttons and messages.
type Lexicon struct {
	Commands Commands `toml:"commands"`
	Messages Messages `toml:"messages"`
	// Menu rows shown as a reply keyboard after /start. Derived from
	// Commands unless set explicitly.
	Menu [][]string `toml:"menu"`
}

// Default returns the built-in English lexicon.
func Default() Lexicon {
	lx := Lexicon{
		Commands: Commands{
			Start:      "start",
			Restart:    "restart",
			Auth:       "auth",
			GetTask:    "get_task",
			Notes:      "notes",
			CreateNote: "create_note",
			Search:     "search",
			Help:       "help",
			Status:     "status",
		},
		Messages: Messages{
			Welcome:            "Welcome to Taski. Send /auth to sign in.",
			Menu:               "Here is what I can do for you:",
			Help:               "Commands:\n/auth - sign in\n/notes - list your tasks\n/get_task - find a task by name\n/create_note - create a task\n/search - find tasks by tag\n/status - session status\n/restart - start over",
			AskEmail:           "Please send your email.",
			AskPassword:        "Please send your password.",
			AskTelegram:        "Please send your Telegram username.",
			AuthSuccess:        "You are signed in!",
			AuthError:          "Authentication failed. Please try again with /auth.",
			AuthMismatch:       "Authentication failed: the Telegram username does not match this account.",
			LinkError:          "Could not link your Telegram username. Please send it again.",
			AuthRequired:       "Please sign in first with /auth.",
			SessionExpired:     "Your session has expired. Please sign in again with /auth.",
			AskTaskName:        "Send the task name as task:<name>.",
			TaskFound:          "Task found:\nName: %s\nDescription: %s",
			TaskNotFound:       "No task with that name.",
			TaskLookupError:    "Could not fetch the task. Please try again.",
			NotesHeader:        "Your tasks:",
			NotesEmpty:         "You have no tasks yet.",
			NotesError:         "Could not fetch your tasks. Please try again.",
			AskNote:            "Send the task as: Title | Description",
			NoteCreated:        "Task created!",
			NoteRejected:       "The backend rejected this task: %s",
			NoteError:          "Could not create the task. Please try again.",
			AskTag:             "Send a tag to search for, like #work",
			SingleTagOnly:      "Please search for one tag at a time.",
			SearchHeader:       "Tasks tagged #%s:",
			SearchEmpty:        "No tasks tagged #%s.",
			SearchError:        "Could not search tasks. Please try again.",
			Status:             "State: %s\nUsername: %s",
			StatusTokenExpires: "Token expires: %s",
			InternalError:      "Something went wrong. Please try again.",
		},
	}
	lx.Menu = lx.Commands.menuRows()
	return lx
}

// menuRows lays out the task commands as keyboard rows.
func (c Commands) menuRows() [][]string {
	return [][]string{
		{"/" + c.CreateNote, "/" + c.GetTask},
		{"/" + c.Search, "/" + c.Notes},
	}
}

// Load returns the default lexicon merged with overrides from path.
// An empty path returns the defaults.
func Load(path string) (Lexicon, error) {
	lx := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return lx, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("read lexicon: %w", err)
	}
	var override Lexicon
	if err := toml.Unmarshal(data, &override); err != nil {
		return Lexicon{}, fmt.Errorf("parse lexicon: %w", err)
	}
	return merge(lx, override), nil
}

// merge overlays non-empty fields of override on base.
func merge(base, override Lexicon) Lexicon {
	out := base
	mergeCommand(&out.Commands.Start, override.Commands.Start)
	mergeCommand(&out.Commands.Restart, override.Commands.Restart)
	mergeCommand(&out.Commands.Auth, override.Commands.Auth)
	mergeCommand(&out.Commands.GetTask, override.Commands.GetTask)
	mergeCommand(&out.Commands.Notes, override.Commands.Notes)
	mergeCommand(&out.Commands.CreateNote, override.Commands.CreateNote)
	mergeCommand(&out.Commands.Search, override.Commands.Search)
	mergeCommand(&out.Commands.Help, override.Commands.Help)
	mergeCommand(&out.Commands.Status, override.Commands.Status)

	m, o := &out.Messages, override.Messages
	for _, p := range []struct {
		dst *string
		src string
	}{
		{&m.Welcome, o.Welcome},
		{&m.Menu, o.Menu},
		{&m.Help, o.Help},
		{&m.AskEmail, o.AskEmail},
		{&m.AskPassword, o.AskPassword},
		{&m.AskTelegram, o.AskTelegram},
		{&m.AuthSuccess, o.AuthSuccess},
		{&m.AuthError, o.AuthError},
		{&m.AuthMismatch, o.AuthMismatch},
		{&m.LinkError, o.LinkError},
		{&m.AuthRequired, o.AuthRequired},
		{&m.SessionExpired, o.SessionExpired},
		{&m.AskTaskName, o.AskTaskName},
		{&m.TaskFound, o.TaskFound},
		{&m.TaskNotFound, o.TaskNotFound},
		{&m.TaskLookupError, o.TaskLookupError},
		{&m.NotesHeader, o.NotesHeader},
		{&m.NotesEmpty, o.NotesEmpty},
		{&m.NotesError, o.NotesError},
		{&m.AskNote, o.AskNote},
		{&m.NoteCreated, o.NoteCreated},
		{&m.NoteRejected, o.NoteRejected},
		{&m.NoteError, o.NoteError},
		{&m.AskTag, o.AskTag},
		{&m.SingleTagOnly, o.SingleTagOnly},
		{&m.SearchHeader, o.SearchHeader},
		{&m.SearchEmpty, o.SearchEmpty},
		{&m.SearchError, o.SearchError},
		{&m.Status, o.Status},
		{&m.StatusTokenExpires, o.StatusTokenExpires},
		{&m.InternalError, o.InternalError},
	} {
		mergeMessage(p.dst, p.src)
	}

	// Explicit menu rows win; otherwise the keyboard follows renamed commands.
	if len(override.Menu) > 0 {
		out.Menu = override.Menu
	} else {
		out.Menu = out.Commands.menuRows()
	}
	return out
}

func mergeCommand(dst *string, src string) {
	if s := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(src), "/")); s != "" {
		*dst = s
	}
}

func mergeMessage(dst *string, src string) {
	if strings.TrimSpace(src) != "" {
		*dst = src
	}
}
