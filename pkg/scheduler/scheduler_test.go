package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/lucid-vigil/threatcluster/pkg/config"
)

// MockJob is a mock implementation of the Job interface.
type MockJob struct {
	mock.Mock
}

func (m *MockJob) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockJob) Run(ctx context.Context) {
	m.Called(ctx)
}

func TestScheduler_RegisterJob(t *testing.T) {
	sched := NewScheduler(&config.Config{})

	job := new(MockJob)
	job.On("Name").Return("test_job")

	sched.RegisterJob(job)

	assert.Len(t, sched.jobs, 1)
	assert.Equal(t, job, sched.jobs[0])
	job.AssertExpectations(t)
}

func TestScheduler_Start(t *testing.T) {
	cfg := &config.Config{
		Jobs: []config.JobConfig{
			{Name: "job_enabled", Enabled: true, Interval: "50ms"},
			{Name: "job_disabled", Enabled: false, Interval: "50ms"},
			{Name: "job_invalid_interval", Enabled: true, Interval: "invalid"},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sched := NewScheduler(cfg)

	enabledJob := new(MockJob)
	enabledJob.On("Name").Return("job_enabled")

	// One immediate run plus two ticks.
	var wg sync.WaitGroup
	wg.Add(3)
	var once sync.Once
	calls := 0
	var mu sync.Mutex
	enabledJob.On("Run", mock.Anything).Run(func(mock.Arguments) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 3 {
			wg.Done()
		}
		if calls == 3 {
			once.Do(cancel)
		}
	}).Return()
	sched.RegisterJob(enabledJob)

	disabledJob := new(MockJob)
	disabledJob.On("Name").Return("job_disabled")
	sched.RegisterJob(disabledJob)

	invalidJob := new(MockJob)
	invalidJob.On("Name").Return("job_invalid_interval")
	sched.RegisterJob(invalidJob)

	unconfigured := new(MockJob)
	unconfigured.On("Name").Return("job_unconfigured")
	sched.RegisterJob(unconfigured)

	assert.Equal(t, 1, sched.Start(ctx))

	wg.Wait()
	sched.Wait()

	enabledJob.AssertExpectations(t)
	disabledJob.AssertNotCalled(t, "Run", mock.Anything)
	invalidJob.AssertNotCalled(t, "Run", mock.Anything)
	unconfigured.AssertNotCalled(t, "Run", mock.Anything)
}

func TestScheduler_Shutdown(t *testing.T) {
	cfg := &config.Config{
		Jobs: []config.JobConfig{
			{Name: "shutdown_job", Enabled: true, Interval: "100ms"},
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := NewScheduler(cfg)

	job := new(MockJob)
	job.On("Name").Return("shutdown_job")
	var wg sync.WaitGroup
	wg.Add(1)
	var once sync.Once
	job.On("Run", mock.Anything).Run(func(mock.Arguments) { once.Do(wg.Done) }).Return()
	sched.RegisterJob(job)

	sched.Start(ctx)
	wg.Wait()
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	job.AssertExpectations(t)
}
