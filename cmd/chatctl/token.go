package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aaronaludo/chat-system/pkg/jwt"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发管理员令牌",
	Long: `使用服务端的 ADMIN_JWT_SECRET 在本地签发管理员令牌。

加 --save 时写入配置文件，之后的命令自动携带；不加则只打印令牌。`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "清除配置文件中保存的管理员令牌",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("token") == "" {
			fmt.Println("当前没有保存的令牌")
			return nil
		}
		viper.Set("token", "")
		if err := writeConfig(); err != nil {
			return err
		}
		fmt.Println("✅ 已清除本地令牌")
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("secret", os.Getenv("ADMIN_JWT_SECRET"), "签名密钥 (默认取 ADMIN_JWT_SECRET)")
	tokenCmd.Flags().String("name", "chatctl", "令牌中的管理员名")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "有效期")
	tokenCmd.Flags().Bool("save", false, "写入配置文件")
	rootCmd.AddCommand(tokenCmd, logoutCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		return fmt.Errorf("缺少签名密钥，请指定 --secret 或设置 ADMIN_JWT_SECRET")
	}
	name, _ := cmd.Flags().GetString("name")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if ttl <= 0 {
		return fmt.Errorf("--ttl 必须为正数")
	}

	token, err := jwt.NewJWTService(secret, ttl).GenerateAdminToken(name)
	if err != nil {
		return err
	}

	if save, _ := cmd.Flags().GetBool("save"); save {
		viper.Set("token", token)
		if err := writeConfig(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✅ 令牌已保存到 %s (有效期 %s)\n", viper.ConfigFileUsed(), ttl)
		return nil
	}

	fmt.Println(token)
	return nil
}

// writeConfig 写回配置文件，只持久化 server 和 token
func writeConfig() error {
	path := viper.ConfigFileUsed()
	if path == "" {
		return fmt.Errorf("无法确定配置文件路径，请使用 --config 指定")
	}

	out := viper.New()
	out.SetConfigType("yaml")
	out.Set("server", viper.GetString("server"))
	out.Set("token", viper.GetString("token"))
	if err := out.WriteConfigAs(path); err != nil {
		return fmt.Errorf("保存配置失败: %w", err)
	}
	return nil
}
