package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

type recordingNotifier struct {
	jobs []model.Job
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, job model.Job) error {
	r.jobs = append(r.jobs, job)
	return r.err
}

func failedJob() model.Job {
	return model.Job{
		ID: "j1", Kind: model.KindRecalculate, LeagueID: "bl1", SeasonID: "2024",
		Status: model.JobFailed, Attempts: 3, MaxAttempts: 3,
		Error: "store unavailable", ErrorKind: "transient",
	}
}

func TestNotify(t *testing.T) {
	Convey("Given a failed job", t, func() {
		ctx := context.Background()
		job := failedJob()

		Convey("The message names the job, key and error", func() {
			msg := Message(job)
			So(msg, ShouldContainSubstring, "j1")
			So(msg, ShouldContainSubstring, "bl1/2024")
			So(msg, ShouldContainSubstring, "attempts: 3/3")
			So(msg, ShouldContainSubstring, "store unavailable")
		})

		Convey("Telegram sends the message to the configured chat", func() {
			sender := &fakeSender{}
			tg := NewTelegramWithSender(sender, 1234)
			So(tg.Notify(ctx, job), ShouldBeNil)
			So(sender.sent, ShouldHaveLength, 1)
			So(sender.sent[0].ChatID, ShouldEqual, int64(1234))
			So(sender.sent[0].Text, ShouldEqual, Message(job))
		})

		Convey("Telegram without a chat id refuses", func() {
			tg := NewTelegramWithSender(&fakeSender{}, 0)
			So(errors.Is(tg.Notify(ctx, job), ErrNoChat), ShouldBeTrue)
		})

		Convey("The log notifier writes an error record", func() {
			var buf bytes.Buffer
			So(logger.InitWithOptions(logger.Options{Format: "json", Writer: &buf}), ShouldBeNil)
			So(NewLog(logger.Get()).Notify(ctx, job), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, `"msg":"job escalated"`)
			So(buf.String(), ShouldContainSubstring, `"job_id":"j1"`)
		})

		Convey("Multi reaches every notifier even when one fails", func() {
			broken := &recordingNotifier{err: errors.New("down")}
			ok := &recordingNotifier{}
			err := Multi{broken, ok}.Notify(ctx, job)
			So(err, ShouldNotBeNil)
			So(broken.jobs, ShouldHaveLength, 1)
			So(ok.jobs, ShouldHaveLength, 1)
		})
	})
}
