package notify

import (
	"context"
	"strings"
	"sync"
)

// Message — отправленное сообщение, сохранённое Recorder-ом.
type Message struct {
	ChatID  int64
	Text    string
	Photo   bool
	Buttons []Button
}

// Recorder запоминает сообщения вместо отправки.
// Используется в тестах и при запуске без Telegram (APP_ENV=local).
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

// Send сохраняет текст.
func (r *Recorder) Send(_ context.Context, chatID int64, text string, buttons ...Button) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{ChatID: chatID, Text: text, Buttons: buttons})
	return r.Err
}

// SendPhoto сохраняет подпись фото.
func (r *Recorder) SendPhoto(_ context.Context, chatID int64, _ []byte, caption string, buttons ...Button) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{ChatID: chatID, Text: caption, Photo: true, Buttons: buttons})
	return r.Err
}

// Messages возвращает копию всех сообщений.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// To — сообщения одному чату.
func (r *Recorder) To(chatID int64) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Contains — есть ли сообщение в чат с подстрокой.
func (r *Recorder) Contains(chatID int64, substr string) bool {
	for _, m := range r.To(chatID) {
		if strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}
