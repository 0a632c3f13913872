package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Versewell/app"
	"Versewell/config"
	"Versewell/core/generation"
	"Versewell/core/profile"
	"Versewell/model"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	genUserID       string
	genEntryID      string
	genLyricsID     string
	genEntryFile    string
	genVisibility   string
	genStyle        string
	genGenre        string
	genMood         string
	genInstrumental bool
	genForce        bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "同步生成一首歌曲",
	Long:  `在命令行中完成一次完整的生成流程（歌词、封面、音乐、存储、入库），并输出结果 JSON。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := generation.TrackRequest{
			UserID:          genUserID,
			EntryID:         genEntryID,
			LyricsID:        genLyricsID,
			Visibility:      model.Visibility(genVisibility),
			Style:           genStyle,
			Genre:           genGenre,
			Mood:            genMood,
			Instrumental:    genInstrumental,
			ForceRegenerate: genForce,
		}
		if genEntryFile != "" {
			entry, err := readEntry(genEntryFile)
			if err != nil {
				return err
			}
			req.Snapshot = entry
		}

		cfg := config.Load()
		app.InitLogging(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("初始化失败: %w", err)
		}
		defer a.Close()

		fmt.Println("开始生成...")
		start := time.Now()
		res, err := a.Service.Generate(ctx, req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("生成失败 (%s): %s", res.Code, res.Error)
		}
		fmt.Printf("生成完成，用时 %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func readEntry(path string) (*profile.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取日记文件失败: %w", err)
	}
	var entry profile.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("解析日记文件失败: %w", err)
	}
	return &entry, nil
}

func init() {
	rootCmd.AddCommand(generateCmd)

	f := generateCmd.Flags()
	f.StringVarP(&genUserID, "user", "u", "", "用户 ID（必填）")
	f.StringVarP(&genEntryID, "entry", "e", "", "日记 ID")
	f.StringVarP(&genLyricsID, "lyrics", "l", "", "复用已有歌词 ID")
	f.StringVar(&genEntryFile, "entry-file", "", "日记快照 JSON 文件，跳过日记服务")
	f.StringVarP(&genVisibility, "visibility", "v", string(model.VisibilityPersonal), "personal | shared | public")
	f.StringVar(&genStyle, "style", "", "自定义风格")
	f.StringVar(&genGenre, "genre", "", "流派")
	f.StringVar(&genMood, "mood", "", "情绪")
	f.BoolVar(&genInstrumental, "instrumental", false, "纯音乐")
	f.BoolVarP(&genForce, "force", "f", false, "忽略歌词缓存重新生成")
	_ = generateCmd.MarkFlagRequired("user")

	generateCmd.Example = `  # 根据日记生成个人歌曲
  versewell generate -u u-42 -e entry-7

  # 使用本地日记快照生成公开歌曲
  versewell generate -u u-42 --entry-file entry.json -v public`
}
