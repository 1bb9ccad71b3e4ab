package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aaronaludo/chat-system/internal/model"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "列出活跃会话",
	Long:  `列出当前仍有消息的会话及其消息数。需要管理员令牌 (--token 或 CHATCTL_TOKEN)。`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := newClient().ListSessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("没有活跃会话")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%-40s %d\n", s.SessionID, s.MessageCount)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session>",
	Short: "显示会话的完整消息记录",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := newClient().History(args[0])
		if err != nil {
			return err
		}
		if len(snap.Messages) == 0 {
			fmt.Printf("会话 %s 没有消息\n", snap.SessionID)
			return nil
		}
		for i := range snap.Messages {
			printMessage(&snap.Messages[i])
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <session> <content...>",
	Short: "向会话发送一条消息",
	Long: `通过 REST 接口向会话追加一条消息，消息会推送给该会话的所有实时连接。

示例:
  chatctl send room-1 hello there --author alice
  chatctl send room-1 "I can help" --role assistant`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildMessage(cmd, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		snap, err := newClient().Send(args[0], req)
		if err != nil {
			return describeError(err)
		}
		printMessage(&snap.Messages[len(snap.Messages)-1])
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear <session>",
	Short: "清空会话",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Clear(args[0]); err != nil {
			return err
		}
		fmt.Printf("✅ 会话 %s 已清空\n", args[0])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示服务器状态",
	Long:  `显示服务器地址、依赖健康状态和实时连接统计。`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := newClient().Health()
		if health == nil {
			return err
		}

		fmt.Printf("服务器: %s\n", viper.GetString("server"))
		for name, state := range health.Dependencies {
			fmt.Printf("  %-8s %s\n", name, state)
		}
		fmt.Printf("实时会话: %d  连接: %d\n", health.Live.Sessions, health.Live.Connections)
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, tailCmd} {
		c.Flags().String("role", string(model.RoleUser), "消息角色: user / assistant")
		c.Flags().String("author", "", "作者名（可选）")
	}
	rootCmd.AddCommand(sessionsCmd, historyCmd, sendCmd, clearCmd, statusCmd)
}

// buildMessage 根据 --role / --author 构建请求
// 角色在本地检查，其余校验交给服务端
func buildMessage(cmd *cobra.Command, content string) (*model.MessageCreate, error) {
	role, err := cmd.Flags().GetString("role")
	if err != nil {
		return nil, err
	}
	if !model.Role(role).Valid() {
		return nil, fmt.Errorf("无效的角色 %q，可选: user / assistant", role)
	}
	req := &model.MessageCreate{Role: model.Role(role), Content: content}
	if author, _ := cmd.Flags().GetString("author"); author != "" {
		req.AuthorName = &author
	}
	return req, nil
}
