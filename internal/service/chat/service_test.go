package chat_test

import (
	"errors"
	"testing"

	"github.com/zhouzirui/consult-chat/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/consult-chat/backend/internal/service/chat"
)

func TestLogAppendKeepsOrder(t *testing.T) {
	log := chatservice.NewLog()
	log.Reset("s1")

	for _, body := range []string{"a", "b", "c"} {
		if err := log.Append(chat.Message{SessionID: "s1", Body: body}); err != nil {
			t.Fatalf("Append err: %v", err)
		}
	}

	msgs := log.Messages()
	if len(msgs) != 3 || msgs[0].Body != "a" || msgs[2].Body != "c" {
		t.Fatalf("unexpected log %+v", msgs)
	}
	last, ok := log.Last()
	if !ok || last.Body != "c" {
		t.Fatalf("unexpected tail %+v", last)
	}
}

func TestLogSuppressesServerIDDuplicates(t *testing.T) {
	log := chatservice.NewLog()
	log.Reset("s1")

	if err := log.Append(chat.Message{ID: "m1", SessionID: "s1"}); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if err := log.Append(chat.Message{ID: "m1", SessionID: "s1"}); !errors.Is(err, chatservice.ErrDuplicateSuppressed) {
		t.Fatalf("expected duplicate suppression, got %v", err)
	}
	if log.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", log.Len())
	}
}

func TestLogRejectsOtherSession(t *testing.T) {
	log := chatservice.NewLog()
	log.Reset("s1")

	if err := log.Append(chat.Message{SessionID: "s2"}); !errors.Is(err, chatservice.ErrSessionMismatch) {
		t.Fatalf("expected session mismatch, got %v", err)
	}
}

func TestLogReplaceSkipsDuplicates(t *testing.T) {
	log := chatservice.NewLog()
	log.Reset("s1")
	_ = log.Append(chat.Message{ID: "old", SessionID: "s1"})

	skipped := log.Replace([]chat.Message{
		{ID: "m1", SessionID: "s1"},
		{ID: "m1", SessionID: "s1"},
		{ID: "m2", SessionID: "s1"},
	})
	if skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", skipped)
	}
	if log.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", log.Len())
	}
}

func TestLogSelectOptionDisablesAll(t *testing.T) {
	log := chatservice.NewLog()
	log.Reset("s1")
	_ = log.Append(chat.Message{
		ID:        "m1",
		SessionID: "s1",
		Options:   []chat.Option{{OptionID: "a", Label: "X"}, {OptionID: "b", Label: "Y"}},
	})

	msg, opt, err := log.SelectOption("m1", "b")
	if err != nil {
		t.Fatalf("SelectOption err: %v", err)
	}
	if opt.Label != "Y" {
		t.Fatalf("unexpected option %+v", opt)
	}
	for _, o := range msg.Options {
		if !o.Disabled {
			t.Fatalf("expected option %s disabled", o.OptionID)
		}
	}

	if _, _, err := log.SelectOption("m1", "zzz"); !errors.Is(err, chatservice.ErrOptionNotFound) {
		t.Fatalf("expected option not found, got %v", err)
	}
	if _, _, err := log.SelectOption("missing", "a"); !errors.Is(err, chatservice.ErrMessageNotFound) {
		t.Fatalf("expected message not found, got %v", err)
	}
}

func TestLogMessagesReturnsCopy(t *testing.T) {
	log := chatservice.NewLog()
	log.Reset("s1")
	_ = log.Append(chat.Message{ID: "m1", SessionID: "s1", Options: []chat.Option{{OptionID: "a"}}})

	msgs := log.Messages()
	msgs[0].Options[0].Disabled = true

	last, _ := log.Last()
	if last.Options[0].Disabled {
		t.Fatal("Messages leaked internal option slice")
	}
}
