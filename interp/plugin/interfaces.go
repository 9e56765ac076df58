package plugin

import "github.com/mlld-lang/mlld/interp"

// Initializer is implemented by transformers that need setup before their
// first invocation — opening a connection, warming a cache. Initialize is
// called once, before any task method runs; a non-nil error fails startup.
//
//	func (p *DBPlugin) Initialize() error {
//	    conn, err := pgx.Connect(context.Background(), p.dsn)
//	    if err != nil {
//	        return err
//	    }
//	    p.conn = conn
//	    return nil
//	}
type Initializer = interp.Initializer

// Shutdowner is implemented by transformers that hold resources needing
// cleanup. Shutdown is called once, in reverse registration order.
//
//	func (p *CachePlugin) Shutdown() error {
//	    return p.cache.Close()
//	}
type Shutdowner = interp.Shutdowner
