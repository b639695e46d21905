package ledger

// Server-side Lua keeps the balance check and the ledger append in one
// uninterruptible step. Redis executes scripts serially, so two concurrent
// reserves for the same agent can never both observe the pre-decrement
// balance. Different agents touch different keys and do not contend.

// reserveScript checks and decrements the balance, appends a RESERVE entry
// and records the open reservation.
//
// KEYS: 1=balance 2=log 3=reservation 4=seq
// ARGV: 1=agent 2=session 3=task 4=estimated 5=daily_limit 6=now_ms 7=ttl_sec
const reserveScript = `
local limit = tonumber(ARGV[5])
local est = tonumber(ARGV[4])
local ttl = tonumber(ARGV[7])
if redis.call('EXISTS', KEYS[3]) == 1 then
  return {'TASK_RESERVED'}
end
local bal = redis.call('GET', KEYS[1])
if bal then bal = tonumber(bal) else bal = limit end
if est > bal then
  return {'INSUFFICIENT', tostring(bal)}
end
local newbal = bal - est
redis.call('SET', KEYS[1], newbal, 'EX', ttl)
local id = redis.call('INCR', KEYS[4])
redis.call('XADD', KEYS[2], '*',
  'id', tostring(id), 'kind', 'RESERVE', 'agent', ARGV[1],
  'session', ARGV[2], 'task', ARGV[3], 'estimated', tostring(est),
  'actual', '0', 'balance', tostring(newbal), 'created_ms', ARGV[6])
redis.call('HSET', KEYS[3],
  'agent', ARGV[1], 'session', ARGV[2], 'estimated', tostring(est),
  'created_ms', ARGV[6], 'settled', '0')
redis.call('EXPIRE', KEYS[3], ttl)
return {'OK', tostring(id), tostring(newbal)}
`

// settleScript reconciles an open reservation against its actual cost. A
// cheaper-than-estimated task produces a REFUND; anything else a SETTLE with
// the overage charged against the balance, clipped to [0, daily_limit].
//
// KEYS: 1=balance 2=log 3=reservation 4=seq
// ARGV: 1=agent 2=task 3=actual 4=daily_limit 5=now_ms 6=ttl_sec
const settleScript = `
if redis.call('EXISTS', KEYS[3]) == 0 then
  return {'UNKNOWN_TASK'}
end
if redis.call('HGET', KEYS[3], 'settled') == '1' then
  return {'ALREADY_SETTLED'}
end
local est = tonumber(redis.call('HGET', KEYS[3], 'estimated'))
local session = redis.call('HGET', KEYS[3], 'session')
if not session then session = '' end
local actual = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])
local bal = redis.call('GET', KEYS[1])
if bal then bal = tonumber(bal) else bal = limit end
local newbal = bal + est - actual
if newbal > limit then newbal = limit end
if newbal < 0 then newbal = 0 end
local kind = 'SETTLE'
if actual < est then kind = 'REFUND' end
redis.call('SET', KEYS[1], newbal, 'EX', tonumber(ARGV[6]))
redis.call('HSET', KEYS[3], 'settled', '1', 'actual', tostring(actual))
local id = redis.call('INCR', KEYS[4])
redis.call('XADD', KEYS[2], '*',
  'id', tostring(id), 'kind', kind, 'agent', ARGV[1],
  'session', session, 'task', ARGV[2], 'estimated', tostring(est),
  'actual', tostring(actual), 'balance', tostring(newbal), 'created_ms', ARGV[5])
return {'OK', tostring(id), tostring(newbal), kind, tostring(est), session}
`

// resetScript stamps the daily allowance grant once per agent per UTC day.
// The marker key makes redundant invocations (multiple schedulers, crash
// retries) no-ops. Balance keys are per-date and self-initialize to the
// limit, so the script writes the balance only when the day is still
// untouched: a reset after spend has been recorded must never re-grant
// consumed units.
//
// KEYS: 1=balance 2=log 3=marker 4=seq
// ARGV: 1=agent 2=daily_limit 3=now_ms 4=ttl_sec
const resetScript = `
if redis.call('EXISTS', KEYS[3]) == 1 then
  return {'NOOP'}
end
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[4])
redis.call('SET', KEYS[3], '1', 'EX', ttl)
local bal = redis.call('GET', KEYS[1])
if bal then
  bal = tonumber(bal)
else
  bal = limit
  redis.call('SET', KEYS[1], tostring(bal), 'EX', ttl)
end
local id = redis.call('INCR', KEYS[4])
redis.call('XADD', KEYS[2], '*',
  'id', tostring(id), 'kind', 'RESET', 'agent', ARGV[1],
  'session', '', 'task', '', 'estimated', '0',
  'actual', '0', 'balance', tostring(bal), 'created_ms', ARGV[3])
return {'OK', tostring(id), tostring(bal)}
`
