package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/multiapi/driveman/internal/upload"
	"github.com/multiapi/driveman/internal/validation"
)

func newUploadCmd() *cobra.Command {
	var (
		accountKey     string
		parentFolderID string
		concurrency    int
	)

	cmd := &cobra.Command{
		Use:   "upload [files...]",
		Short: "Upload files to a cloud-storage account",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateAccountKey(accountKey); err != nil {
				return err
			}
			for _, path := range args {
				if err := validation.ValidateUploadSource(path); err != nil {
					return err
				}
			}
			if concurrency < 1 {
				concurrency = cfg.Upload.MaxConcurrency
			}

			runner := upload.NewRunner(newClient(), nil, logger)
			defer runner.Close()

			// One bar tracks overall batch progress; per-file detail goes to
			// the log lines beneath it.
			bar := progressbar.NewOptions(len(args)*100,
				progressbar.OptionSetDescription("uploading"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)

			var mu sync.Mutex
			jobPercent := make(map[string]int)
			runner.OnProgress(func(jobID string, percent int) {
				mu.Lock()
				prev := jobPercent[jobID]
				jobPercent[jobID] = percent
				mu.Unlock()
				_ = bar.Add(percent - prev)
			})

			runner.OnJobDone(func(jobID string, status upload.Status, err error) {
				job, _ := runner.Job(jobID)
				switch status {
				case upload.StatusCompleted:
					logger.Infof("uploaded %s", job.Name)
				case upload.StatusFailed:
					logger.Errorf("failed %s: %v", job.Name, err)
				case upload.StatusCancelled:
					logger.Warnf("cancelled %s", job.Name)
				}
			})

			done := make(chan upload.Summary, 1)
			runner.OnQueueDrained(func(summary upload.Summary) {
				done <- summary
			})

			if err := runner.Start(concurrency); err != nil {
				return err
			}
			for _, path := range args {
				runner.Enqueue(path, accountKey, parentFolderID)
			}

			// Interrupt cancels queued jobs; in-flight uploads finish.
			go func() {
				<-rootContext.Done()
				runner.CancelAll()
			}()

			summary := <-done
			_ = bar.Finish()
			fmt.Printf("Completed: %d  Failed: %d  Cancelled: %d\n",
				summary.Completed, summary.Failed, summary.Cancelled)
			if summary.Failed > 0 {
				return fmt.Errorf("%d upload(s) failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&accountKey, "account", "", "Destination account key (required)")
	cmd.Flags().StringVar(&parentFolderID, "folder", "", "Destination folder ID (defaults to root)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrent uploads (0 = config default)")
	return cmd
}
