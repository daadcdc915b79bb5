package cmd

import (
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 Musaic 服务器",
	Long:  `启动 Musaic 的 HTTP 服务器，提供页面、认证、Spotify 代理、播放器 WebSocket 和聊天接口`,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
