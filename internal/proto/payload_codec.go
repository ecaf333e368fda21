package proto

import "fmt"

// encodePayload writes the wire body for msg's payload. Dispatch is keyed on
// (Type, DataType) so a future DataType can reuse an existing Type's framing
// without touching unrelated cases.
func encodePayload(cur *cursor, hdr Header, payload any) error {
	switch hdr.Type {
	case TypeRequest:
		return encodeRequest(cur, hdr.DataType, payload)
	case TypeReply:
		return encodeReply(cur, hdr.DataType, payload)
	case TypeSendFrame:
		p, ok := payload.(*SendFramePayload)
		if !ok {
			return fmt.Errorf("send_frame: unexpected payload type %T", payload)
		}
		return encodeSendFrame(cur, p)
	case TypeSendEvent:
		p, ok := payload.(*SendEventPayload)
		if !ok {
			return fmt.Errorf("send_event: unexpected payload type %T", payload)
		}
		cur.putString(p.EventType)
		cur.putStringMap(p.Args)
		return nil
	case TypeHandshake:
		return nil
	default:
		return fmt.Errorf("unknown message type %d", hdr.Type)
	}
}

func encodeRequest(cur *cursor, dt DataType, payload any) error {
	switch dt {
	case DataOpen, DataOpenPublisher:
		p, ok := payload.(*OpenRequest)
		if !ok {
			return fmt.Errorf("open request: unexpected payload type %T", payload)
		}
		cur.putString(p.Key)
		cur.putStringMap(p.Arguments)
		return nil
	case DataClose, DataStart, DataStop, DataDisconnect, DataSecondaryConnect,
		DataClosePublisher, DataGetVersion, DataGetStreamList, DataGetServerConfig:
		return nil
	case DataReleaseFrame:
		p, ok := payload.(*ReleaseFrameRequest)
		if !ok {
			return fmt.Errorf("release_frame: unexpected payload type %T", payload)
		}
		cur.putUint64(p.SequenceNumber)
		cur.putBool(p.RawDataAccessed)
		return nil
	case DataGetProperty, DataSetProperty, DataGetPropertyList:
		p, ok := payload.(*PropertyRequest)
		if !ok {
			return fmt.Errorf("property request: unexpected payload type %T", payload)
		}
		cur.putString(p.Key)
		cur.putBytes(p.Property)
		return nil
	case DataLockProperty:
		p, ok := payload.(*LockPropertyRequest)
		if !ok {
			return fmt.Errorf("lock_property: unexpected payload type %T", payload)
		}
		cur.putStringSlice(p.Keys)
		cur.putUint32(uint32(int32(p.TimeoutMsec)))
		return nil
	case DataUnlockProperty:
		p, ok := payload.(*UnlockPropertyRequest)
		if !ok {
			return fmt.Errorf("unlock_property: unexpected payload type %T", payload)
		}
		cur.putUint64(p.ResourceID)
		return nil
	case DataRegisterEvent, DataUnregisterEvent:
		p, ok := payload.(*RegisterEventRequest)
		if !ok {
			return fmt.Errorf("register_event: unexpected payload type %T", payload)
		}
		cur.putString(p.EventType)
		return nil
	default:
		return fmt.Errorf("unknown request data_type %d", dt)
	}
}

func encodeReply(cur *cursor, dt DataType, payload any) error {
	switch dt {
	case DataClose, DataStart, DataStop, DataSetProperty, DataUnlockProperty,
		DataDisconnect, DataSecondaryConnect, DataRegisterEvent, DataUnregisterEvent,
		DataReleaseFrame, DataClosePublisher:
		p, ok := payload.(*StandardReply)
		if !ok {
			return fmt.Errorf("standard reply: unexpected payload type %T", payload)
		}
		cur.putStatus(p.Status)
		return nil
	case DataOpen, DataOpenPublisher:
		p, ok := payload.(*OpenReply)
		if !ok {
			return fmt.Errorf("open reply: unexpected payload type %T", payload)
		}
		cur.putStatus(p.Status)
		cur.putStringSlice(p.PropertyKeyList)
		return nil
	case DataGetVersion:
		p, ok := payload.(*VersionReply)
		if !ok {
			return fmt.Errorf("version reply: unexpected payload type %T", payload)
		}
		cur.putStatus(p.Status)
		cur.putString(p.Version.Name)
		cur.putUint32(p.Version.Major)
		cur.putUint32(p.Version.Minor)
		cur.putUint32(p.Version.Patch)
		cur.putString(p.Version.Description)
		cur.putStringMap(p.Version.StreamVersions)
		return nil
	case DataGetStreamList:
		p, ok := payload.(*StreamListReply)
		if !ok {
			return fmt.Errorf("stream_list reply: unexpected payload type %T", payload)
		}
		cur.putStatus(p.Status)
		cur.putUint32(uint32(len(p.StreamList)))
		for _, e := range p.StreamList {
			cur.putString(e.Key)
			cur.putString(e.Type)
		}
		return nil
	case DataGetServerConfig:
		p, ok := payload.(*ServerConfigReply)
		if !ok {
			return fmt.Errorf("server_config reply: unexpected payload type %T", payload)
		}
		cur.putStatus(p.Status)
		cur.putStringMap(p.Config)
		return nil
	case DataGetProperty, DataGetPropertyList:
		p, ok := payload.(*PropertyReply)
		if !ok {
			return fmt.Errorf("property reply: unexpected payload type %T", payload)
		}
		cur.putStatus(p.Status)
		cur.putString(p.Key)
		cur.putBytes(p.Property)
		return nil
	case DataLockProperty:
		p, ok := payload.(*LockPropertyReply)
		if !ok {
			return fmt.Errorf("lock_property reply: unexpected payload type %T", payload)
		}
		cur.putStatus(p.Status)
		cur.putUint64(p.ResourceID)
		return nil
	case DataSendFrame:
		p, ok := payload.(*SendFrameReply)
		if !ok {
			return fmt.Errorf("send_frame reply: unexpected payload type %T", payload)
		}
		cur.putUint32(uint32(len(p.SequenceNumbers)))
		for _, sn := range p.SequenceNumbers {
			cur.putUint64(sn)
		}
		return nil
	default:
		return fmt.Errorf("unknown reply data_type %d", dt)
	}
}

func encodeRawDataInfo(cur *cursor, raw RawDataInfo) {
	cur.putUint8(uint8(raw.Mode))
	cur.putBytes(raw.Bytes)
}

func encodeChannel(cur *cursor, ch Channel) {
	cur.putUint32(ch.ChannelID)
	cur.putString(ch.RawDataType)
	cur.putString(ch.AllocatorKey)
	encodeRawDataInfo(cur, ch.Raw)
	cur.putUint64(ch.Timestamp)
	cur.putUint32(uint32(len(ch.Properties)))
	for _, p := range ch.Properties {
		cur.putString(p.Key)
		cur.putBytes(p.Value)
	}
	cur.putStringSlice(ch.UpdatedKeys)
}

func encodeSendFrame(cur *cursor, p *SendFramePayload) error {
	cur.putUint32(uint32(len(p.Frames)))
	for _, f := range p.Frames {
		cur.putUint64(f.SequenceNumber)
		cur.putUint64(f.SentTime)
		cur.putBytes(f.UserData)
		cur.putUint32(uint32(len(f.Channels)))
		for _, ch := range f.Channels {
			encodeChannel(cur, ch)
		}
	}
	return nil
}

func decodePayload(r *reader, hdr Header) (any, error) {
	switch hdr.Type {
	case TypeRequest:
		return decodeRequest(r, hdr.DataType)
	case TypeReply:
		return decodeReply(r, hdr.DataType)
	case TypeSendFrame:
		return decodeSendFrame(r)
	case TypeSendEvent:
		eventType, err := r.getString()
		if err != nil {
			return nil, err
		}
		args, err := r.getStringMap()
		if err != nil {
			return nil, err
		}
		return &SendEventPayload{EventType: eventType, Args: args}, nil
	case TypeHandshake:
		return &Empty{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %d", hdr.Type)
	}
}

func decodeRequest(r *reader, dt DataType) (any, error) {
	switch dt {
	case DataOpen, DataOpenPublisher:
		key, err := r.getString()
		if err != nil {
			return nil, err
		}
		args, err := r.getStringMap()
		if err != nil {
			return nil, err
		}
		return &OpenRequest{Key: key, Arguments: args}, nil
	case DataClose, DataStart, DataStop, DataDisconnect, DataSecondaryConnect,
		DataClosePublisher, DataGetVersion, DataGetStreamList, DataGetServerConfig:
		return &Empty{}, nil
	case DataReleaseFrame:
		seq, err := r.getUint64()
		if err != nil {
			return nil, err
		}
		accessed, err := r.getBool()
		if err != nil {
			return nil, err
		}
		return &ReleaseFrameRequest{SequenceNumber: seq, RawDataAccessed: accessed}, nil
	case DataGetProperty, DataSetProperty, DataGetPropertyList:
		key, err := r.getString()
		if err != nil {
			return nil, err
		}
		prop, err := r.getBytes()
		if err != nil {
			return nil, err
		}
		return &PropertyRequest{Key: key, Property: prop}, nil
	case DataLockProperty:
		keys, err := r.getStringSlice()
		if err != nil {
			return nil, err
		}
		timeout, err := r.getUint32()
		if err != nil {
			return nil, err
		}
		return &LockPropertyRequest{Keys: keys, TimeoutMsec: int32(timeout)}, nil
	case DataUnlockProperty:
		id, err := r.getUint64()
		if err != nil {
			return nil, err
		}
		return &UnlockPropertyRequest{ResourceID: id}, nil
	case DataRegisterEvent, DataUnregisterEvent:
		eventType, err := r.getString()
		if err != nil {
			return nil, err
		}
		return &RegisterEventRequest{EventType: eventType}, nil
	default:
		return nil, fmt.Errorf("unknown request data_type %d", dt)
	}
}

func decodeReply(r *reader, dt DataType) (any, error) {
	switch dt {
	case DataClose, DataStart, DataStop, DataSetProperty, DataUnlockProperty,
		DataDisconnect, DataSecondaryConnect, DataRegisterEvent, DataUnregisterEvent,
		DataReleaseFrame, DataClosePublisher:
		status, err := r.getStatus()
		if err != nil {
			return nil, err
		}
		return &StandardReply{Status: status}, nil
	case DataOpen, DataOpenPublisher:
		status, err := r.getStatus()
		if err != nil {
			return nil, err
		}
		keys, err := r.getStringSlice()
		if err != nil {
			return nil, err
		}
		return &OpenReply{Status: status, PropertyKeyList: keys}, nil
	case DataGetVersion:
		status, err := r.getStatus()
		if err != nil {
			return nil, err
		}
		name, err := r.getString()
		if err != nil {
			return nil, err
		}
		major, err := r.getUint32()
		if err != nil {
			return nil, err
		}
		minor, err := r.getUint32()
		if err != nil {
			return nil, err
		}
		patch, err := r.getUint32()
		if err != nil {
			return nil, err
		}
		desc, err := r.getString()
		if err != nil {
			return nil, err
		}
		streamVersions, err := r.getStringMap()
		if err != nil {
			return nil, err
		}
		return &VersionReply{Status: status, Version: VersionInfo{
			Name: name, Major: major, Minor: minor, Patch: patch,
			Description: desc, StreamVersions: streamVersions,
		}}, nil
	case DataGetStreamList:
		status, err := r.getStatus()
		if err != nil {
			return nil, err
		}
		n, err := r.getUint32()
		if err != nil {
			return nil, err
		}
		entries := make([]StreamListEntry, n)
		for i := range entries {
			if entries[i].Key, err = r.getString(); err != nil {
				return nil, err
			}
			if entries[i].Type, err = r.getString(); err != nil {
				return nil, err
			}
		}
		return &StreamListReply{Status: status, StreamList: entries}, nil
	case DataGetServerConfig:
		status, err := r.getStatus()
		if err != nil {
			return nil, err
		}
		cfg, err := r.getStringMap()
		if err != nil {
			return nil, err
		}
		return &ServerConfigReply{Status: status, Config: cfg}, nil
	case DataGetProperty, DataGetPropertyList:
		status, err := r.getStatus()
		if err != nil {
			return nil, err
		}
		key, err := r.getString()
		if err != nil {
			return nil, err
		}
		prop, err := r.getBytes()
		if err != nil {
			return nil, err
		}
		return &PropertyReply{Status: status, Key: key, Property: prop}, nil
	case DataLockProperty:
		status, err := r.getStatus()
		if err != nil {
			return nil, err
		}
		id, err := r.getUint64()
		if err != nil {
			return nil, err
		}
		return &LockPropertyReply{Status: status, ResourceID: id}, nil
	case DataSendFrame:
		n, err := r.getUint32()
		if err != nil {
			return nil, err
		}
		seqs := make([]uint64, n)
		for i := range seqs {
			if seqs[i], err = r.getUint64(); err != nil {
				return nil, err
			}
		}
		return &SendFrameReply{SequenceNumbers: seqs}, nil
	default:
		return nil, fmt.Errorf("unknown reply data_type %d", dt)
	}
}

func decodeRawDataInfo(r *reader) (RawDataInfo, error) {
	mode, err := r.getUint8()
	if err != nil {
		return RawDataInfo{}, err
	}
	b, err := r.getBytes()
	if err != nil {
		return RawDataInfo{}, err
	}
	return RawDataInfo{Mode: DeliveringMode(mode), Bytes: b}, nil
}

func decodeChannel(r *reader) (Channel, error) {
	var ch Channel
	var err error
	if ch.ChannelID, err = r.getUint32(); err != nil {
		return ch, err
	}
	if ch.RawDataType, err = r.getString(); err != nil {
		return ch, err
	}
	if ch.AllocatorKey, err = r.getString(); err != nil {
		return ch, err
	}
	if ch.Raw, err = decodeRawDataInfo(r); err != nil {
		return ch, err
	}
	if ch.Timestamp, err = r.getUint64(); err != nil {
		return ch, err
	}
	n, err := r.getUint32()
	if err != nil {
		return ch, err
	}
	ch.Properties = make([]PropertySnapshot, n)
	for i := range ch.Properties {
		if ch.Properties[i].Key, err = r.getString(); err != nil {
			return ch, err
		}
		if ch.Properties[i].Value, err = r.getBytes(); err != nil {
			return ch, err
		}
	}
	if ch.UpdatedKeys, err = r.getStringSlice(); err != nil {
		return ch, err
	}
	return ch, nil
}

func decodeSendFrame(r *reader) (any, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, n)
	for i := range frames {
		f := &frames[i]
		if f.SequenceNumber, err = r.getUint64(); err != nil {
			return nil, err
		}
		if f.SentTime, err = r.getUint64(); err != nil {
			return nil, err
		}
		if f.UserData, err = r.getBytes(); err != nil {
			return nil, err
		}
		chCount, err := r.getUint32()
		if err != nil {
			return nil, err
		}
		f.Channels = make([]Channel, chCount)
		for j := range f.Channels {
			if f.Channels[j], err = decodeChannel(r); err != nil {
				return nil, err
			}
		}
	}
	return &SendFramePayload{Frames: frames}, nil
}
