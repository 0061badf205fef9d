package notify

// Local list mutations. None of these imply a server round trip; read
// state is reconciled by the server via count_update frames.

// addNotification prepends a notification, deduplicating by ID and
// truncating to the list cap (oldest evicted).
func (m *Manager) addNotification(n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.items {
		if existing.ID == n.ID {
			return
		}
	}

	m.items = append([]Notification{n}, m.items...)
	if len(m.items) > m.listCap {
		m.items = m.items[:m.listCap]
	}
}

// Notifications returns a copy of the current list, newest first.
func (m *Manager) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Notification, len(m.items))
	copy(out, m.items)
	return out
}

// UnreadCount returns the server-driven unread counter.
func (m *Manager) UnreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread
}

// Remove drops the notification with the given ID. Unknown IDs are a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, n := range m.items {
		if n.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return
		}
	}
}

// MarkRead flags the notification with the given ID as read locally.
// Unknown IDs are a no-op.
func (m *Manager) MarkRead(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].Status = "read"
			return
		}
	}
}

// ClearAll empties the local list.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = nil
}
