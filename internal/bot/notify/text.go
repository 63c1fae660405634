package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/avoronov/sdbridge/internal/bot/escalation"
	"github.com/avoronov/sdbridge/internal/bot/ticket"
)

// BuildEscalationText renders one escalation message: the header with the
// local timestamp, the duty mention, then the stuck tickets sorted by id.
func BuildEscalationText(action escalation.Action, now time.Time) string {
	lines := []string{
		fmt.Sprintf("🚨 Эскалация: заявки не взяты в работу вовремя — %s", now.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("%s заберите в работу, пожалуйста.", action.Mention),
		"",
	}
	for _, it := range ticket.SortByID(action.Items) {
		lines = append(lines, fmt.Sprintf("- #%d: %s", it.ID(), it.Name()))
	}
	return strings.Join(lines, "\n")
}
