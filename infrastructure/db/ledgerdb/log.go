package ledgerdb

import "github.com/bookchain/bookchaind/infrastructure/logger"

var log = logger.RegisterSubSystem("LDDB")
