package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-ingest/internal/core/domain"
	"github.com/custodia-labs/sercha-ingest/internal/core/ports/driving"
)

// progressInterval is how often a waiting command polls job status.
var progressInterval = 500 * time.Millisecond

var (
	submitKind       string
	submitDefinition string
	submitParams     map[string]string
	submitDetach     bool

	retryDetach bool

	listSource string
	listStatus string
	listLimit  int
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and control ingestion jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit <location>",
	Short: "Ingest a source",
	Long: `Creates the source on first use and starts an ingestion job for it.

The command waits for the job and prints progress. With --detach it
returns immediately and leaves the job pending for a running
"sercha-ingest serve" to pick up.

Examples:
  sercha-ingest job submit --kind localdir ~/notes --param patterns=*.md
  sercha-ingest job submit --kind urllist "https://a.example,https://b.example"
  sercha-ingest job submit --definition <id> crm-accounts`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationQueue: "true"},
	RunE:        runJobSubmit,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's status and counters",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatus,
}

var jobLogsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Show a job's log",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobLogs,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobList,
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobCancel,
}

var jobRetryCmd = &cobra.Command{
	Use:         "retry <job-id>",
	Short:       "Start a new job for the source of a failed or cancelled job",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationQueue: "true"},
	RunE:        runJobRetry,
}

var jobRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Fail jobs left running by a process that died",
	Args:  cobra.NoArgs,
	RunE:  runJobRecover,
}

func init() {
	jobSubmitCmd.Flags().StringVarP(&submitKind, "kind", "k", "", "connector kind (see 'connector kinds')")
	jobSubmitCmd.Flags().StringVarP(&submitDefinition, "definition", "d", "", "connector definition ID")
	jobSubmitCmd.Flags().StringToStringVarP(&submitParams, "param", "p", nil, "connector parameter key=value (repeatable)")
	jobSubmitCmd.Flags().BoolVar(&submitDetach, "detach", false, "queue the job and return")

	jobRetryCmd.Flags().BoolVar(&retryDetach, "detach", false, "queue the job and return")

	jobListCmd.Flags().StringVar(&listSource, "source", "", "only jobs of this source")
	jobListCmd.Flags().StringVar(&listStatus, "status", "", "only jobs in this status")
	jobListCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum number of jobs")

	jobCmd.AddCommand(jobSubmitCmd, jobStatusCmd, jobLogsCmd, jobListCmd, jobCancelCmd, jobRetryCmd, jobRecoverCmd)
	rootCmd.AddCommand(jobCmd)
}

func jobContext(cmd *cobra.Command) (context.Context, domain.TenantID, error) {
	if jobService == nil {
		return nil, "", errors.New("job service not configured")
	}
	tenant, err := currentTenant()
	if err != nil {
		return nil, "", err
	}
	return cmd.Context(), tenant, nil
}

func runJobSubmit(cmd *cobra.Command, args []string) error {
	ctx, tenant, err := jobContext(cmd)
	if err != nil {
		return err
	}

	req := driving.SubmitRequest{
		Location:     args[0],
		DefinitionID: submitDefinition,
		Params:       submitParams,
	}
	if submitKind != "" {
		kind, err := domain.ParseConnectorKind(submitKind)
		if err != nil {
			return err
		}
		req.Kind = kind
	}

	job, err := jobService.Submit(ctx, tenant, req)
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return fmt.Errorf("source %s already has active job %s", conflict.SourceID, conflict.ActiveJobID)
	}
	if err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}

	cmd.Printf("Submitted job %s for source %s\n", job.ID, job.SourceID)
	if submitDetach {
		return nil
	}
	return waitWithProgress(cmd, tenant, job.ID)
}

func runJobRetry(cmd *cobra.Command, args []string) error {
	ctx, tenant, err := jobContext(cmd)
	if err != nil {
		return err
	}
	job, err := jobService.Retry(ctx, tenant, args[0])
	if err != nil {
		return fmt.Errorf("retry failed: %w", err)
	}
	cmd.Printf("Started job %s (retry of %s)\n", job.ID, job.RetryOf)
	if retryDetach {
		return nil
	}
	return waitWithProgress(cmd, tenant, job.ID)
}

// waitWithProgress blocks until the job finishes, printing counters as
// they change. An interrupt requests cancellation and keeps waiting for
// the job to acknowledge it.
func waitWithProgress(cmd *cobra.Command, tenant domain.TenantID, jobID string) error {
	ctx := cmd.Context()
	bg := context.WithoutCancel(ctx)

	done := make(chan struct{})
	var (
		final   *domain.Job
		waitErr error
	)
	go func() {
		defer close(done)
		final, waitErr = jobService.Wait(bg, tenant, jobID)
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	interrupt := ctx.Done()
	var last domain.JobCounters
	for {
		select {
		case <-done:
			if waitErr != nil {
				return fmt.Errorf("waiting for job: %w", waitErr)
			}
			cmd.Printf("\r%s\n", progressLine(final))
			return jobOutcome(final)
		case <-interrupt:
			interrupt = nil
			if _, err := jobService.Cancel(bg, tenant, jobID); err != nil {
				return fmt.Errorf("cancelling job: %w", err)
			}
			cmd.Println("\nCancellation requested, waiting for the job to stop...")
		case <-ticker.C:
			job, err := jobService.Status(bg, tenant, jobID)
			if err != nil || job.Counters == last {
				continue
			}
			last = job.Counters
			cmd.Printf("\r%s", progressLine(job))
		}
	}
}

func progressLine(j *domain.Job) string {
	c := j.Counters
	return fmt.Sprintf("[%s] %d seen, %d processed, %d skipped, %d chunks",
		j.Status, c.ItemsSeen, c.ItemsProcessed, c.ItemsSkipped, c.ChunksWritten)
}

func jobOutcome(j *domain.Job) error {
	switch j.Status {
	case domain.JobFailed:
		return fmt.Errorf("job %s failed: %s", j.ID, j.LastError)
	case domain.JobCancelled:
		return fmt.Errorf("job %s was cancelled", j.ID)
	}
	return nil
}

func runJobStatus(cmd *cobra.Command, args []string) error {
	ctx, tenant, err := jobContext(cmd)
	if err != nil {
		return err
	}
	job, err := jobService.Status(ctx, tenant, args[0])
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}
	printJob(cmd, job)
	return nil
}

func printJob(cmd *cobra.Command, j *domain.Job) {
	cmd.Printf("Job:        %s\n", j.ID)
	cmd.Printf("Source:     %s\n", j.SourceID)
	cmd.Printf("Status:     %s\n", j.Status)
	if j.RetryOf != "" {
		cmd.Printf("Retry of:   %s\n", j.RetryOf)
	}
	cmd.Printf("Items:      %d seen, %d processed, %d skipped\n",
		j.Counters.ItemsSeen, j.Counters.ItemsProcessed, j.Counters.ItemsSkipped)
	cmd.Printf("Chunks:     %d\n", j.Counters.ChunksWritten)
	cmd.Printf("Created:    %s\n", j.CreatedAt.Format(time.RFC3339))
	if j.StartedAt != nil {
		cmd.Printf("Duration:   %s\n", j.Duration().Round(time.Millisecond))
	}
	if j.CancelRequested && !j.Status.IsTerminal() {
		cmd.Println("Cancel:     requested")
	}
	if j.LastError != "" {
		cmd.Printf("Error:      %s\n", j.LastError)
	}
}

func runJobLogs(cmd *cobra.Command, args []string) error {
	ctx, tenant, err := jobContext(cmd)
	if err != nil {
		return err
	}
	entries, err := jobService.Logs(ctx, tenant, args[0])
	if err != nil {
		return fmt.Errorf("logs failed: %w", err)
	}
	if len(entries) == 0 {
		cmd.Println("No log entries.")
		return nil
	}
	for i := range entries {
		e := &entries[i]
		if e.ItemKey != "" {
			cmd.Printf("%s [%s] %s: %s\n", e.At.Format(time.RFC3339), e.Level, e.ItemKey, e.Message)
			continue
		}
		cmd.Printf("%s [%s] %s\n", e.At.Format(time.RFC3339), e.Level, e.Message)
	}
	return nil
}

func runJobList(cmd *cobra.Command, _ []string) error {
	ctx, tenant, err := jobContext(cmd)
	if err != nil {
		return err
	}
	jobs, err := jobService.List(ctx, tenant, domain.JobFilter{
		SourceID: listSource,
		Status:   domain.JobStatus(listStatus),
		Limit:    listLimit,
	})
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}
	if len(jobs) == 0 {
		cmd.Println("No jobs.")
		return nil
	}
	for i := range jobs {
		j := &jobs[i]
		cmd.Printf("%s  %-9s  %s  %s\n", j.ID, j.Status, j.SourceID, j.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func runJobCancel(cmd *cobra.Command, args []string) error {
	ctx, tenant, err := jobContext(cmd)
	if err != nil {
		return err
	}
	job, err := jobService.Cancel(ctx, tenant, args[0])
	if err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}
	if job.Status == domain.JobCancelled {
		cmd.Printf("Job %s cancelled.\n", job.ID)
		return nil
	}
	cmd.Printf("Cancellation of job %s requested.\n", job.ID)
	return nil
}

func runJobRecover(cmd *cobra.Command, _ []string) error {
	ctx, tenant, err := jobContext(cmd)
	if err != nil {
		return err
	}
	ids, err := jobService.Recover(ctx, tenant)
	if err != nil {
		return fmt.Errorf("recover failed: %w", err)
	}
	if len(ids) == 0 {
		cmd.Println("No interrupted jobs.")
		return nil
	}
	for _, id := range ids {
		cmd.Printf("Recovered job %s\n", id)
	}
	return nil
}
