// SPDX-License-Identifier: MIT

package api

import "net/http"

// pairingPage is a minimal status page for linking the device. It polls
// /api/qr-status and shows the pairing code until the session is open.
const pairingPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>zapbridge - link device</title>
<style>
body { font-family: system-ui, sans-serif; background: #111; color: #eee; display: flex; justify-content: center; align-items: center; min-height: 100vh; margin: 0; }
.card { background: #1c1c1c; border-radius: 12px; padding: 2rem 3rem; text-align: center; max-width: 26rem; }
.code { font-size: 2.2rem; letter-spacing: 0.3rem; font-family: monospace; margin: 1rem 0; }
.muted { color: #888; font-size: 0.9rem; }
.ok { color: #4caf50; }
</style>
</head>
<body>
<div class="card">
  <h1>Link your device</h1>
  <div id="state" class="muted">Loading…</div>
  <div id="code" class="code"></div>
  <p class="muted">Open WhatsApp &gt; Linked Devices &gt; Link with phone number and enter the code above.</p>
</div>
<script>
async function poll() {
  try {
    const res = await fetch('/api/qr-status');
    const st = await res.json();
    const state = document.getElementById('state');
    const code = document.getElementById('code');
    if (st.status === 'connected') {
      state.textContent = 'Connected as ' + (st.phoneNumber || 'unknown');
      state.className = 'ok';
      code.textContent = '';
    } else if (st.status === 'waiting_for_scan') {
      state.textContent = 'Waiting for pairing…';
      state.className = 'muted';
      code.textContent = st.pairingCode || '';
    } else {
      state.textContent = 'Generating pairing code…';
      state.className = 'muted';
      code.textContent = '';
    }
  } catch (e) {
    document.getElementById('state').textContent = 'Bridge unreachable';
  }
}
poll();
setInterval(poll, 2000);
</script>
</body>
</html>
`

func (s *Server) handlePairingPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(pairingPage))
}
