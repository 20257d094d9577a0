package cli

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/matzehuels/depvet/pkg/checkpoint"
)

// List styles
var (
	listDimStyle = lipgloss.NewStyle().Foreground(colorDim)
)

// recordListModel is the bubbletea model for browsing checkpoint records.
// The detail pane under the table shows the selected record's full key and
// failure reason, which rarely fit in a table column.
type recordListModel struct {
	Records []*checkpoint.Record
	Cursor  int
	Height  int
	Offset  int
}

// newRecordListModel creates a record browser over the given records.
func newRecordListModel(records []*checkpoint.Record) recordListModel {
	return recordListModel{
		Records: records,
		Height:  15,
	}
}

func (m recordListModel) Init() tea.Cmd {
	return nil
}

func (m recordListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc", "enter":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
				if m.Cursor < m.Offset {
					m.Offset = m.Cursor
				}
			}
		case "down", "j":
			if m.Cursor < len(m.Records)-1 {
				m.Cursor++
				if m.Cursor >= m.Offset+m.Height {
					m.Offset = m.Cursor - m.Height + 1
				}
			}
		case "g":
			m.Cursor, m.Offset = 0, 0
		case "G":
			m.Cursor = len(m.Records) - 1
			if m.Cursor >= m.Height {
				m.Offset = m.Cursor - m.Height + 1
			}
		}
	case tea.WindowSizeMsg:
		m.Height = msg.Height - 10
		if m.Height < 5 {
			m.Height = 5
		}
	}
	return m, nil
}

func (m recordListModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Checkpoint Records"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  g/G first/last  q quit"))
	b.WriteString("\n\n")

	end := m.Offset + m.Height
	if end > len(m.Records) {
		end = len(m.Records)
	}

	rows := [][]string{}
	for i := m.Offset; i < end; i++ {
		rec := m.Records[i]

		cursor := "  "
		if i == m.Cursor {
			cursor = "▸ "
		}

		digest := rec.Key.Digest
		if len(digest) > 12 {
			digest = digest[:12]
		}

		rows = append(rows, []string{
			cursor,
			rec.Key.StageID,
			string(rec.Status),
			fmt.Sprintf("%d", rec.Attempts),
			formatRelativeTime(rec.LastAttempt),
			digest,
		})
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("", "Stage", "Status", "Tries", "Last Attempt", "Key").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}

			actualIdx := m.Offset + row
			if actualIdx >= len(m.Records) {
				return lipgloss.NewStyle()
			}
			rec := m.Records[actualIdx]
			isCurrent := actualIdx == m.Cursor

			base := lipgloss.NewStyle()
			if col == 2 {
				switch rec.Status {
				case checkpoint.StatusSucceeded:
					base = base.Foreground(colorGreen)
				case checkpoint.StatusFailedTerminal:
					base = base.Foreground(colorRed)
				case checkpoint.StatusFailedRetryable:
					base = base.Foreground(colorYellow)
				default:
					base = base.Foreground(colorGray)
				}
			}
			if isCurrent {
				return base.Bold(true)
			}
			if col != 2 {
				return base.Foreground(colorGray)
			}
			return base
		})

	b.WriteString(t.Render())
	b.WriteString("\n")

	if m.Cursor < len(m.Records) {
		rec := m.Records[m.Cursor]
		b.WriteString(listDimStyle.Render("  " + rec.Key.String()))
		b.WriteString("\n")
		if rec.Error != "" {
			b.WriteString(StyleDanger.Render("  " + rec.Error))
			b.WriteString("\n")
		}
	}

	b.WriteString(listDimStyle.Render(fmt.Sprintf("  [%d/%d]", m.Cursor+1, len(m.Records))))
	return b.String()
}

// formatRelativeTime renders a timestamp relative to now for table display.
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "—"
	}

	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
