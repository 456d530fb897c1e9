package engine

import (
	"context"
	"d20d/pkg/dispatcher"
	"d20d/pkg/utils/fs"
	"d20d/pkg/utils/logger"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// drainTimeout bounds how long a refused client's request is read before the 429.
const drainTimeout = 100 * time.Millisecond

// Run listens on the configured port and serves until SIGINT or SIGTERM.
func (engine *D20dEngine) Run() error {
	addr := fmt.Sprintf(":%d", engine.config.Server.Port)
	engine.logger.Info(fmt.Sprintf("d20d engine starting on %s...", addr))

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		engine.logger.Error(fmt.Sprintf("Unable to listen on %s: %v", addr, err))
		_ = engine.logger.Close()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	if err := engine.storePid(); err != nil {
		engine.logger.Warn("Continuing without a PID file; 'd20d down' will not find this server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := engine.Serve(ctx, listener)
	if serveErr != nil {
		engine.logger.Error(fmt.Sprintf("Fatal server error: %v", serveErr))
	}

	engine.logger.Info("Shutting down server...")
	if cerr := engine.cleanup(); cerr != nil {
		engine.logger.Error(fmt.Sprintf("Cleanup error: %v", cerr))
	}
	_ = engine.logger.Close()
	return serveErr
}

// Serve accepts connections on listener until ctx is done or the listener
// fails, then waits for in-flight connections to finish. It does not
// release the cache or the limiter; Run does that.
func (engine *D20dEngine) Serve(ctx context.Context, listener net.Listener) error {
	var adminListener net.Listener
	if engine.admin != nil {
		ln, err := engine.admin.Listen()
		if err != nil {
			_ = listener.Close()
			return err
		}
		adminListener = ln
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return engine.acceptLoop(gctx, listener)
	})

	g.Go(func() error {
		<-gctx.Done()
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})

	if adminListener != nil {
		g.Go(func() error {
			err := engine.admin.Serve(adminListener)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			err := engine.admin.Shutdown()
			// Serve may not have registered the listener yet.
			if cerr := adminListener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
				err = cerr
			}
			return err
		})
	}

	return g.Wait()
}

func (engine *D20dEngine) acceptLoop(ctx context.Context, listener net.Listener) error {
	defer engine.drain()

	for {
		if err := engine.connections.Acquire(ctx, 1); err != nil {
			return nil
		}

		conn, err := listener.Accept()
		if err != nil {
			engine.connections.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			engine.logger.Error(fmt.Sprintf("Accept failed: %v", err))
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		go func() {
			defer engine.connections.Release(1)
			engine.handleConn(conn)
		}()
	}
}

// drain blocks until every in-flight connection has been released.
func (engine *D20dEngine) drain() {
	limit := engine.config.Server.MaxConnections
	if err := engine.connections.Acquire(context.Background(), limit); err == nil {
		engine.connections.Release(limit)
	}
}

func (engine *D20dEngine) handleConn(conn net.Conn) {
	start := time.Now()
	log := engine.logger.
		With("conn", uuid.NewString()).
		With("remote", conn.RemoteAddr().String())

	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("Recovered from panic while serving connection: %v", r))
		}
		if err := conn.Close(); err != nil {
			log.Debug(fmt.Sprintf("Error closing connection: %v", err))
		}
		engine.metrics.RequestDuration.Observe(time.Since(start).Seconds())
	}()

	server := engine.config.Server
	if err := conn.SetReadDeadline(start.Add(server.ReadTimeout)); err != nil {
		log.Debug(fmt.Sprintf("Unable to set read deadline: %v", err))
	}
	if err := conn.SetWriteDeadline(start.Add(server.WriteTimeout)); err != nil {
		log.Debug(fmt.Sprintf("Unable to set write deadline: %v", err))
	}

	if engine.rateLimitManager != nil {
		result := engine.rateLimitManager.Check(conn.RemoteAddr(), engine.config.RateLimit)
		if !result.Allowed {
			engine.reject(conn, log)
			return
		}
	}

	engine.logOutcome(log, engine.dispatcher.Handle(conn, log))
}

// reject reads whatever request the client already sent, so closing the
// socket does not reset it before the 429 arrives, and then answers.
func (engine *D20dEngine) reject(conn net.Conn, log *logger.Logger) {
	_ = conn.SetReadDeadline(time.Now().Add(drainTimeout))
	buf := make([]byte, 4096)
	_, _ = conn.Read(buf)

	if err := engine.dispatcher.RejectRateLimited(conn, engine.config.RateLimit.Message); err != nil {
		log.Error(fmt.Sprintf("Unable to send rate limit response: %v", err))
	}
}

func (engine *D20dEngine) logOutcome(log *logger.Logger, err error) {
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrProtocol):
		log.Warn(fmt.Sprintf("Dropping connection: %v", err))
	case errors.Is(err, dispatcher.ErrUnsupported):
		log.Warn(fmt.Sprintf("Dropping connection: %v", err))
	case errors.Is(err, dispatcher.ErrNotFoundPageMissing):
		log.Error(fmt.Sprintf("Dropping connection: %v", err))
	default:
		log.Error(fmt.Sprintf("Unable to answer request: %v", err))
	}
}

func (engine *D20dEngine) storePid() error {
	engine.logger.Info("Storing program id information...")

	storageDir := engine.config.Storage.Path
	path := filepath.Join(storageDir, pidFile)

	if err := fs.EnsureDir(storageDir); err != nil {
		engine.logger.Error(fmt.Sprintf("Unable to create program storage path due to %v", err))
		return err
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", engine.pid)), 0o644); err != nil {
		engine.logger.Error(fmt.Sprintf("Unable to store program id due to %v", err))
		return err
	}

	engine.logger.Info(fmt.Sprintf("Stored program id information at %s", path))
	return nil
}

func (engine *D20dEngine) cleanup() error {
	var errs []error

	if engine.rateLimitManager != nil {
		if err := engine.rateLimitManager.Close(); err != nil {
			engine.logger.Error(fmt.Sprintf("Failed to close rate limit manager: %v", err))
			errs = append(errs, err)
		}
		engine.logger.Info("Rate limit manager closed")
	}

	if err := engine.cacheManager.Close(); err != nil {
		engine.logger.Error(fmt.Sprintf("Failed to close the cache due to: %v", err))
		errs = append(errs, err)
	}
	engine.logger.Info("Cache closed")

	pidPath := filepath.Join(engine.config.Storage.Path, pidFile)
	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		engine.logger.Error(fmt.Sprintf("Failed to remove PID file: %v", err))
		errs = append(errs, err)
	} else {
		engine.logger.Info("PID file removed.")
	}

	return errors.Join(errs...)
}
