package dashboard

import (
	"fmt"
	"os"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Snapshot 一帧仪表盘数据
type Snapshot struct {
	Asset string

	// 引擎
	EntryCount        int
	ServedNegativeLag time.Duration
	Retrievals        int64
	FrameBudget       time.Duration
	AvgFrameLatency   time.Duration
	MeetsSLA          bool

	// 时间线
	TimelineCount int
	PacketCount   int
	AnchorCount   int
	PrunedCount   int

	// 广播
	BroadcastSamples int
	BroadcastAvg     time.Duration
	UnderBudgetRate  float64

	UpdatedAt time.Time
}

// UpdateMsg 外部推送的快照更新
type UpdateMsg struct {
	Snapshot *Snapshot
}

type tickMsg time.Time

// model Bubble Tea model
type model struct {
	snapshot *Snapshot
	width    int
	height   int
}

func newModel() model {
	return model{snapshot: &Snapshot{}}
}

// Init 初始化
func (m model) Init() tea.Cmd {
	return m.tick()
}

func (m model) tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update 处理消息
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Bubble Tea 会拦截 Ctrl+C，主动补发 SIGINT 让主程序走统一退出链路
			_ = syscall.Kill(os.Getpid(), syscall.SIGINT)
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case UpdateMsg:
		if msg.Snapshot != nil {
			m.snapshot = msg.Snapshot
		}
		return m, nil
	case tickMsg:
		return m, m.tick()
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// View 渲染视图
func (m model) View() string {
	if m.snapshot == nil || m.snapshot.UpdatedAt.IsZero() {
		return "等待数据..."
	}
	snap := m.snapshot

	header := titleStyle.Render(fmt.Sprintf("gopredict 监控  %s  %s",
		snap.Asset, snap.UpdatedAt.Format("15:04:05")))

	engineBox := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("引擎"),
		row("缓存条目", fmt.Sprintf("%d", snap.EntryCount)),
		row("累计负延迟", snap.ServedNegativeLag.String()),
		row("取值次数", fmt.Sprintf("%d", snap.Retrievals)),
		row("帧预算", snap.FrameBudget.String()),
		row("平均帧延迟", snap.AvgFrameLatency.String()),
		slaRow(snap.MeetsSLA),
	))

	timelineBox := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("时间线"),
		row("在线分支", fmt.Sprintf("%d", snap.TimelineCount)),
		row("预测包", fmt.Sprintf("%d", snap.PacketCount)),
		row("锚定次数", fmt.Sprintf("%d", snap.AnchorCount)),
		row("已剪枝", fmt.Sprintf("%d", snap.PrunedCount)),
	))

	broadcastBox := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("广播"),
		row("样本数", fmt.Sprintf("%d", snap.BroadcastSamples)),
		row("平均延迟", snap.BroadcastAvg.String()),
		row("预算内占比", fmt.Sprintf("%.1f%%", snap.UnderBudgetRate*100)),
	))

	content := lipgloss.JoinHorizontal(lipgloss.Top, engineBox, " ", timelineBox, " ", broadcastBox)
	footer := labelStyle.Render("  q 退出")

	return lipgloss.JoinVertical(lipgloss.Left, header, content, footer)
}

func row(label, value string) string {
	return fmt.Sprintf("%s %s", labelStyle.Render(label+":"), value)
}

func slaRow(meets bool) string {
	if meets {
		return fmt.Sprintf("%s %s", labelStyle.Render("延迟达标:"), okStyle.Render("是"))
	}
	return fmt.Sprintf("%s %s", labelStyle.Render("延迟达标:"), badStyle.Render("否"))
}
