package handoff

import (
	"bytes"
	"encoding/binary"
	"time"
)

// canonicalize serializes every signed field of a packet, in a fixed
// total order, into a deterministic byte sequence: strings and
// sequences are length-prefixed, integers are fixed-width (int64 BE),
// never floats. The signature covers exactly these bytes.
func canonicalize(packetID, accessToken string, d PacketDraft, createdAt, expiresAt time.Time) []byte {
	var buf bytes.Buffer

	writeString(&buf, packetID)
	writeString(&buf, d.SourceAgent)
	writeString(&buf, d.SourceSession)
	writeString(&buf, d.TargetAgent)
	writeString(&buf, accessToken)
	writeString(&buf, d.TicketID)
	writeString(&buf, d.TicketSummary)
	writeStrings(&buf, d.CompletedTasks)
	writeStrings(&buf, d.PendingTasks)
	writeString(&buf, d.CurrentTask)
	writeStrings(&buf, d.FilesModified)
	writeDecisions(&buf, d.KeyDecisions)
	writeString(&buf, d.HotContext)
	writeStrings(&buf, d.WarmReferences)
	writeInt(&buf, int64(d.BudgetUsed))
	writeInt(&buf, int64(d.BudgetPeak))
	writeInt(&buf, int64(d.ExpansionCount))
	writeInt(&buf, createdAt.UnixNano())
	writeInt(&buf, expiresAt.UnixNano())

	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	writeInt(buf, int64(len(s)))
	buf.WriteString(s)
}

func writeStrings(buf *bytes.Buffer, ss []string) {
	writeInt(buf, int64(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func writeDecisions(buf *bytes.Buffer, ds []KeyDecision) {
	writeInt(buf, int64(len(ds)))
	for _, d := range ds {
		writeInt(buf, d.When.UnixNano())
		writeString(buf, d.What)
		writeString(buf, d.Why)
	}
}

func writeInt(buf *bytes.Buffer, n int64) {
	_ = binary.Write(buf, binary.BigEndian, n)
}
