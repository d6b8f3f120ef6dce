package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	rtmp "github.com/torresjeff/rtmplive"
	"github.com/torresjeff/rtmplive/audio"
	"github.com/torresjeff/rtmplive/video"
	"go.uber.org/zap"
)

func playCmd() *cobra.Command {
	var (
		count   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "play rtmp://host[:port]/app/stream",
		Short: "Play a stream and log every message received",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return play(cmd.Context(), args[0], count, timeout)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many messages (0 plays until the stream ends)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "receive timeout")
	return cmd
}

func play(ctx context.Context, url string, count int, timeout time.Duration) error {
	c, err := rtmp.Dial(ctx, url, logger.Named("client"))
	if err != nil {
		return err
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	c.SetRecvTimeout(timeout)
	if err := c.Connect(); err != nil {
		return err
	}
	if err := c.Play(""); err != nil {
		return err
	}
	logger.Info("playing", zap.String("url", url))

	for n := 0; count == 0 || n < count; n++ {
		msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || rtmp.IsGracefulClose(err) {
				logger.Info("stream ended", zap.Int("messages", n))
				return nil
			}
			return err
		}
		logMessage(msg)
	}
	return nil
}

func logMessage(msg *rtmp.SharedMessage) {
	fields := []zap.Field{zap.Int64("timestamp", msg.Timestamp), zap.Int("size", msg.Size())}
	switch {
	case msg.IsAudio():
		format, _ := audio.FormatOf(msg.Payload)
		fields = append(fields, zap.Uint8("format", uint8(format)), zap.Bool("sequenceHeader", audio.IsSequenceHeader(msg.Payload)))
		logger.Info("audio", fields...)
	case msg.IsVideo():
		codec, _ := video.CodecOf(msg.Payload)
		fields = append(fields,
			zap.Uint8("codec", uint8(codec)),
			zap.Bool("keyFrame", video.IsKeyFrame(msg.Payload)),
			zap.Bool("sequenceHeader", video.IsSequenceHeader(msg.Payload)))
		logger.Info("video", fields...)
	default:
		logger.Info("metadata", fields...)
	}
}
