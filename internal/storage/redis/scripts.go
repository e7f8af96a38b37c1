package redis

const (
	// saveLedgerScript atomically stores a ledger document and indexes its date
	saveLedgerScript = `
local ledger_key = KEYS[1]   -- deskledger:ledger:{computerID}:{date}
local index_key = KEYS[2]    -- deskledger:ledger:index:{computerID}

local date = ARGV[1]
local document = ARGV[2]

redis.call('SET', ledger_key, document)
redis.call('SADD', index_key, date)

return 'OK'
`
)
