package daemonctl

import (
	"context"
	"sync"
)

// fakeClient answers Query and Version from scripted responses. The last
// response of each script repeats forever.
type fakeClient struct {
	mu           sync.Mutex
	bootstrapErr error
	bootstraps   int
	queries      []fakeResponse
	versions     []fakeResponse
	queryCalls   int
	versionCalls int
}

type fakeResponse struct {
	res CommandResult
	err error
}

func readyClient(version string) *fakeClient {
	return &fakeClient{
		queries:  []fakeResponse{{res: CommandResult{Output: "noble  24.04 LTS"}}},
		versions: []fakeResponse{{res: CommandResult{Output: "multipass  " + version + "\nmultipassd " + version + "\n"}}},
	}
}

func (c *fakeClient) Bootstrap(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bootstraps++
	return c.bootstrapErr
}

func (c *fakeClient) Query(context.Context) (CommandResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := pick(c.queries, c.queryCalls)
	c.queryCalls++
	return r.res, r.err
}

func (c *fakeClient) Version(context.Context) (CommandResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := pick(c.versions, c.versionCalls)
	c.versionCalls++
	return r.res, r.err
}

func (c *fakeClient) calls() (queries, versions, bootstraps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryCalls, c.versionCalls, c.bootstraps
}

func pick(script []fakeResponse, i int) fakeResponse {
	if len(script) == 0 {
		return fakeResponse{}
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i]
}
