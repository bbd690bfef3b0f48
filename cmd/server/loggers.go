package main

import "dynlight.ai/internal/sim/world"

// multiAnchorLogger writes to the JSONL log first; the index is best effort.
type multiAnchorLogger struct {
	a world.AnchorLogger
	b world.AnchorLogger
}

func (m multiAnchorLogger) WriteAnchor(entry world.AnchorLogEntry) error {
	err := m.a.WriteAnchor(entry)
	_ = m.b.WriteAnchor(entry)
	return err
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	err := m.a.WriteAudit(entry)
	_ = m.b.WriteAudit(entry)
	return err
}
