package redis

import "github.com/redis/go-redis/v9"

// appendGrantScript pushes a record key onto a grant index and stretches the
// index TTL so it outlives its longest-lived member. A member without expiry
// makes the index persistent.
//
// KEYS[1] grant index, ARGV[1] record key, ARGV[2] member TTL in ms (<= 0: none).
var appendGrantScript = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
local current = redis.call('PTTL', KEYS[1])
redis.call('RPUSH', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl <= 0 then
	redis.call('PERSIST', KEYS[1])
	return 1
end
if existed == 0 or (current >= 0 and current < ttl) then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// consumeScript marks a record consumed without touching its TTL.
// Returns 0 when the record does not exist.
//
// KEYS[1] record, ARGV[1] consumed field, ARGV[2] value.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// revokeGrantScript deletes every record listed in a grant index, then the
// index itself. Returns the number of records deleted.
//
// KEYS[1] grant index.
var revokeGrantScript = redis.NewScript(`
local members = redis.call('LRANGE', KEYS[1], 0, -1)
local deleted = 0
for _, key in ipairs(members) do
	deleted = deleted + redis.call('DEL', key)
end
redis.call('DEL', KEYS[1])
return deleted
`)

// dropIndexScript deletes an index entry only if it still points at ARGV[1].
//
// KEYS[1] index, ARGV[1] record id.
var dropIndexScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)
