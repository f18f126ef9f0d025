package saveload

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *Service) processLoad(ctx context.Context, req *loadRequest) {
	st := s.ensureSlotLoaded(req.slot)
	localResult := st.lastLocalResult
	cloudResult := CloudResultNotAttempted

	doc := st.checkpoint
	docVersion := st.metadataVersion

	if req.cloudURL != "" {
		fullBytes, _ := cbor.Marshal(nonNilMap(doc))
		resp, err := postCloud(ctx, s.cfg.HTTPClient, req.cloudURL, nil, md5Sum(fullBytes))
		switch {
		case err != nil:
			cloudResult = CloudResultTransientFailure
		case resp.status == CloudStatusServerHasNoData:
			cloudResult = CloudResultServerHasNoData
		case resp.status == CloudStatusServerHasSentData:
			cloudResult = CloudResultServerHasSentData
			if len(resp.body) == 0 {
				doc = nil
				docVersion = req.expectedVersion
			} else {
				var wire cloudSaveBody
				if err := cbor.Unmarshal(resp.body, &wire); err != nil {
					cloudResult = CloudResultPermanentFailure
				} else {
					doc = wire.SaveData
					docVersion = wire.Version
				}
			}
		case isTransientCloudStatus(resp.status):
			cloudResult = CloudResultTransientFailure
		default:
			cloudResult = CloudResultPermanentFailure
		}
	}

	if doc == nil && localResult != LocalResultSuccess {
		s.deliverLoad(req, LoadOutcome{LocalResult: localResult, CloudResult: cloudResult, FinalResult: FinalResultNotFound},
			status.Error(codes.NotFound, "saveload: no local or cloud data for slot"))
		return
	}

	migrated, err := applyMigrations(nonNilMap(doc), docVersion, req.expectedVersion, req.migrations)
	if err != nil {
		s.deliverLoad(req, LoadOutcome{LocalResult: localResult, CloudResult: cloudResult, FinalResult: FinalResultMigrationFailure}, err)
		return
	}

	if req.saveData != nil {
		raw, err := cbor.Marshal(migrated)
		if err == nil {
			err = cbor.Unmarshal(raw, req.saveData)
		}
		if err != nil {
			s.deliverLoad(req, LoadOutcome{LocalResult: localResult, CloudResult: cloudResult, FinalResult: FinalResultError},
				status.Errorf(codes.DataLoss, "saveload: failed to decode migrated save data: %s", err))
			return
		}
	}

	if req.resetSession {
		s.setSessionGUID(uuid.New())
	}

	st.checkpoint = migrated
	st.metadataVersion = req.expectedVersion

	s.deliverLoad(req, LoadOutcome{LocalResult: localResult, CloudResult: cloudResult, FinalResult: FinalResultSuccess}, nil)
}
