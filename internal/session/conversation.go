package session

// Append adds a message to the end of the conversation and returns it.
func (s *Session) Append(role, content string) Message {
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.persist("append message", func(j Journal) error {
		return j.AppendMessage(s.ID, msg)
	})
	return msg
}

// All returns the conversation in chronological order. The slice is a copy.
func (s *Session) All() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the conversation.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
