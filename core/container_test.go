package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerRegisterAndGet(t *testing.T) {
	container := NewContainer()
	container.Register("greeting", "hello")

	service, err := container.Get("greeting")
	require.NoError(t, err)
	assert.Equal(t, "hello", service)

	_, err = container.Get("missing")
	require.Error(t, err)
}

func TestContainerSingleton(t *testing.T) {
	container := NewContainer()

	created := 0
	container.RegisterSingleton("counter", func() any {
		created++
		return &created
	})

	first := container.MustGet("counter")
	second := container.MustGet("counter")

	assert.Same(t, first, second)
	assert.Equal(t, 1, created, "工厂函数只应该执行一次")
}

func TestContainerMustGetPanics(t *testing.T) {
	container := NewContainer()
	assert.Panics(t, func() {
		container.MustGet("missing")
	})
}

func TestContainerGetAs(t *testing.T) {
	container := NewContainer()
	container.Register("name", "bqlens")

	var name string
	require.NoError(t, container.GetAs("name", &name))
	assert.Equal(t, "bqlens", name)

	var number int
	require.Error(t, container.GetAs("name", &number), "类型不匹配应该报错")
	require.Error(t, container.GetAs("name", name), "非指针目标应该报错")
}

func TestContainerHasRemoveClear(t *testing.T) {
	container := NewContainer()
	container.Register("a", 1)
	container.Register("b", 2)

	assert.True(t, container.Has("a"))
	assert.Len(t, container.GetServiceNames(), 2)

	container.Remove("a")
	assert.False(t, container.Has("a"))

	container.Clear()
	assert.Empty(t, container.GetServiceNames())
}

func TestContainerConcurrentAccess(t *testing.T) {
	container := NewContainer()
	container.RegisterSingleton("shared", func() any {
		return new(int)
	})

	var wg sync.WaitGroup
	results := make([]any, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = container.MustGet("shared")
		}(i)
	}
	wg.Wait()

	for _, result := range results {
		assert.Same(t, results[0], result)
	}
}

func TestApplicationBoot(t *testing.T) {
	app := NewApplication()
	require.NoError(t, app.RegisterProvider(NewDefaultServiceProvider("")))

	require.NoError(t, app.Boot())
	assert.True(t, app.IsBooted())

	// 重复启动是幂等的
	require.NoError(t, app.Boot())

	assert.True(t, app.GetContainer().Has(ServiceLogger))
	assert.True(t, app.GetContainer().Has(ServiceConfig))
}
