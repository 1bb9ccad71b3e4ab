package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/aaronaludo/chat-system/internal/chatclient"
	relay "github.com/aaronaludo/chat-system/internal/websocket"
)

var tailCmd = &cobra.Command{
	Use:   "tail <session>",
	Short: "实时订阅会话",
	Long: `连接会话的实时通道，先打印完整快照，再持续打印新消息和清空事件。

标准输入是终端时，每输入一行就作为一条消息发送（角色和作者由 --role / --author 指定）。
按 Ctrl+C 退出。`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	sessionID := args[0]

	stream, err := chatclient.Dial(viper.GetString("server"), sessionID)
	if err != nil {
		return err
	}
	defer stream.Close()

	done := make(chan error, 1)
	go func() {
		done <- stream.Listen(printEvent)
	}()

	// 交互输入
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "已连接会话 %s，输入内容后回车发送 (Ctrl+C 退出)\n", sessionID)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				req, err := buildMessage(cmd, line)
				if err != nil {
					fmt.Fprintln(os.Stderr, "✗", err)
					continue
				}
				if err := stream.Send(req); err != nil {
					fmt.Fprintln(os.Stderr, "✗ 发送失败:", err)
					return
				}
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		fmt.Fprintln(os.Stderr, "\n正在断开连接...")
		return nil
	case err := <-done:
		if err != nil {
			return fmt.Errorf("连接已断开: %w", err)
		}
		fmt.Fprintln(os.Stderr, "服务器已关闭连接")
		return nil
	}
}

func printEvent(evt *relay.Event) {
	switch evt.Type {
	case relay.TypeSessionSync:
		if evt.Session == nil {
			return
		}
		for i := range evt.Session.Messages {
			printMessage(&evt.Session.Messages[i])
		}
		fmt.Fprintf(os.Stderr, "── 以上为历史消息 (%d) ──\n", len(evt.Session.Messages))
	case relay.TypeMessageCreated:
		if evt.Message != nil {
			printMessage(evt.Message)
		}
	case relay.TypeSessionCleared:
		fmt.Printf("── 会话 %s 已被清空 ──\n", evt.SessionID)
	case relay.TypeError:
		fmt.Fprintf(os.Stderr, "✗ %s\n", evt.Detail)
		for _, fe := range evt.Errors {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", strings.Join(fe.Loc, "."), fe.Msg)
		}
	default:
		fmt.Fprintf(os.Stderr, "⚠️  未知事件类型: %s\n", evt.Type)
	}
}
