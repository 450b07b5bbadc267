package postgres

const queryUpsertConfig = `
INSERT INTO integration_configs (id, form_id, channel_type, enabled, settings, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET enabled = EXCLUDED.enabled,
    settings = EXCLUDED.settings,
    created_at = EXCLUDED.created_at,
    updated_at = EXCLUDED.updated_at
`

const queryGetConfig = `
SELECT id, form_id, channel_type, enabled, settings, created_at, updated_at
FROM integration_configs
WHERE id = $1
`

const queryListEnabledConfigs = `
SELECT id, form_id, channel_type, enabled, settings, created_at, updated_at
FROM integration_configs
WHERE form_id = $1
  AND enabled = true
  AND channel_type = ANY($2)
`

const queryListAllConfigs = `
SELECT id, form_id, channel_type, enabled, settings, created_at, updated_at
FROM integration_configs
ORDER BY seq ASC
`

const queryDeleteConfig = `
DELETE FROM integration_configs WHERE id = $1
`

const queryInsertEvent = `
INSERT INTO integration_events (id, integration_id, event_type, submission_id, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryPruneEvents = `
DELETE FROM integration_events
WHERE integration_id = $1
  AND seq NOT IN (
    SELECT seq FROM integration_events
    WHERE integration_id = $1
    ORDER BY seq DESC
    LIMIT $2
  )
`

const queryListEvents = `
SELECT id, integration_id, event_type, submission_id, error, created_at
FROM integration_events
WHERE integration_id = $1
ORDER BY seq DESC
LIMIT $2
`
