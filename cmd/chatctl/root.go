package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aaronaludo/chat-system/internal/chatclient"
	"github.com/aaronaludo/chat-system/internal/model"
)

const defaultServer = "http://localhost:8080"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "chatctl - 聊天中继服务命令行客户端",
	Long: `chatctl 用于查看和操作聊天中继服务上的会话。

服务器地址按以下顺序取值：--server 参数、CHATCTL_SERVER 环境变量、
配置文件 (~/.chatctl.yaml) 中的 server，默认 http://localhost:8080。`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局参数
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件 (默认: ~/.chatctl.yaml)")
	rootCmd.PersistentFlags().StringP("server", "s", "", "服务器地址 (默认: "+defaultServer+")")
	rootCmd.PersistentFlags().String("token", "", "管理员令牌，列出会话时需要")

	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.SetConfigFile(filepath.Join(home, ".chatctl.yaml"))
	}
	viper.SetConfigType("yaml")

	viper.SetDefault("server", defaultServer)
	viper.SetEnvPrefix("CHATCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// 配置文件可选
	if err := viper.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "读取配置失败: %v\n", err)
		}
	}
}

// newClient 按当前配置创建 API 客户端
func newClient() *chatclient.Client {
	return chatclient.NewClient(viper.GetString("server"), viper.GetString("token"))
}

// printMessage 打印一条消息
func printMessage(m *model.Message) {
	who := string(m.Role)
	if author := m.Author(); author != "" {
		who += "(" + author + ")"
	}
	fmt.Printf("[%s] %-20s %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"), who, m.Content)
}

// describeError 展开校验失败的字段信息
func describeError(err error) error {
	var apiErr *chatclient.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Data) == 0 || apiErr.Status != http.StatusUnprocessableEntity {
		return err
	}
	return fmt.Errorf("%s\n%s", apiErr.Message, string(apiErr.Data))
}
