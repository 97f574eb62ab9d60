package dashboard

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "dashboard")

// Dashboard 终端仪表盘，消费快照 channel 并渲染
type Dashboard struct {
	program *tea.Program
	updateC <-chan *Snapshot
}

// New 创建仪表盘
func New(updateC <-chan *Snapshot) *Dashboard {
	return &Dashboard{
		program: tea.NewProgram(newModel(), tea.WithAltScreen()),
		updateC: updateC,
	}
}

// Run 阻塞运行 TUI，直到用户退出或 ctx 取消
func (d *Dashboard) Run(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				d.program.Quit()
				return
			case snap, ok := <-d.updateC:
				if !ok {
					d.program.Quit()
					return
				}
				d.program.Send(UpdateMsg{Snapshot: snap})
			}
		}
	}()

	_, err := d.program.Run()
	if err != nil {
		log.Errorf("❌ 仪表盘退出异常: %v", err)
	}
	return err
}
