package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/PaulBabatuyi/realtime-dm/internal/data"
)

func TestNewMessageSent(t *testing.T) {
	view := &data.MessageView{
		Message: data.Message{
			ID: "m1", ConversationID: "c1", SenderID: "a", ReceiverID: "b",
			Body: "secret body", Seq: 3, CreatedAt: time.Now().UTC(),
		},
		Sender:   data.UserRef{ID: "a", Name: "Ann"},
		Receiver: data.UserRef{ID: "b", Name: "Ben"},
	}

	b, err := NewMessageSent(view)
	if err != nil {
		t.Fatalf("NewMessageSent failed: %v", err)
	}
	if b.Key != "c1" || b.Seq != 3 {
		t.Fatalf("unexpected key/seq: %s/%d", b.Key, b.Seq)
	}

	want := map[string]bool{"chat.a": true, "chat.b": true, "contacts.a": true, "contacts.b": true}
	if len(b.Events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(b.Events))
	}
	for _, ev := range b.Events {
		if !want[ev.Channel] {
			t.Fatalf("unexpected channel %s", ev.Channel)
		}
		if ev.Name != MessageSent {
			t.Fatalf("unexpected event name %s", ev.Name)
		}
		var payload map[string]any
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			t.Fatalf("payload not json: %v", err)
		}
		switch ev.Channel[:len(ChatPrefix)] {
		case ChatPrefix:
			if payload["body"] != "secret body" {
				t.Fatalf("chat payload must carry the body: %v", payload)
			}
			sender, _ := payload["sender"].(map[string]any)
			if sender["name"] != "Ann" {
				t.Fatalf("chat payload must carry the sender: %v", payload)
			}
		default:
			if _, ok := payload["body"]; ok {
				t.Fatalf("contacts payload must not carry the body: %v", payload)
			}
			if payload["conversation_id"] != "c1" {
				t.Fatalf("contacts payload missing conversation: %v", payload)
			}
		}
	}
}

func TestNewMessageReadAndTyping(t *testing.T) {
	b, err := NewMessageRead(ReadReceipt{ConversationID: "c1", ReaderID: "b", LastReadSeq: 9}, "a")
	if err != nil {
		t.Fatalf("NewMessageRead failed: %v", err)
	}
	if b.Seq != 0 || len(b.Events) != 2 || b.Events[0].Channel != "chat.a" || b.Events[1].Channel != "contacts.b" {
		t.Fatalf("unexpected read batch: %+v", b)
	}

	tb, err := NewTyping("a", "b")
	if err != nil {
		t.Fatalf("NewTyping failed: %v", err)
	}
	if len(tb.Events) != 1 || tb.Events[0].Channel != "chat.b" || tb.Events[0].Name != UserTyping {
		t.Fatalf("unexpected typing batch: %+v", tb)
	}
}
