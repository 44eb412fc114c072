package cmd

import (
	"CadenceFM/server"

	"github.com/spf13/cobra"
)

var listenAddr string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动CadenceFM服务器",
	Long:  `启动CadenceFM的HTTP服务器，提供REST API和播放器WebSocket桥接`,
	Run: func(cmd *cobra.Command, args []string) {
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&listenAddr, "addr", "a", "", "监听地址，覆盖 LISTEN_ADDR")
}
