package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"musaic/config"
	"musaic/core/spotify"

	"github.com/spf13/cobra"
)

var (
	searchKeyword string
	searchToken   string
	searchLimit   int
)

var spotifyCmd = &cobra.Command{
	Use:   "spotify",
	Short: "Spotify 搜索命令行工具",
	Long:  `使用 Spotify 访问令牌搜索歌曲，打印曲目名称、艺术家和 URI。`,
	Run: func(cmd *cobra.Command, args []string) {
		if strings.TrimSpace(searchKeyword) == "" {
			fmt.Println("请输入要搜索的歌曲名称")
			os.Exit(1)
		}
		if searchToken == "" {
			searchToken = os.Getenv("SPOTIFY_ACCESS_TOKEN")
		}
		if searchToken == "" {
			fmt.Println("请通过 -t 或 SPOTIFY_ACCESS_TOKEN 提供访问令牌")
			os.Exit(1)
		}

		cfg := config.Load()
		client := spotify.New(cfg.SpotifyAPIURL, searchToken)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		fmt.Printf("正在搜索: %s\n", searchKeyword)
		result, err := client.SearchTracks(ctx, searchKeyword, searchLimit)
		if err != nil {
			log.Fatalf("搜索失败: %v", err)
		}
		if len(result.Tracks) == 0 {
			fmt.Println("未找到相关歌曲")
			return
		}

		fmt.Printf("\n找到 %d 首歌曲:\n", len(result.Tracks))
		for i, track := range result.Tracks {
			fmt.Printf("%d. %s - %s\n   %s\n", i+1, track.Name, strings.Join(track.Artists, ", "), track.URI)
		}
	},
}

func init() {
	rootCmd.AddCommand(spotifyCmd)

	spotifyCmd.Flags().StringVarP(&searchKeyword, "keyword", "k", "", "搜索关键词")
	spotifyCmd.Flags().StringVarP(&searchToken, "token", "t", "", "Spotify 访问令牌")
	spotifyCmd.Flags().IntVarP(&searchLimit, "limit", "l", 5, "返回结果数量")
}
